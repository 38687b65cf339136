package daytona

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const tagName = "validate"

var defaultValidator = &paramValidator{}

type paramValidator struct {
	once     sync.Once
	validate *validator.Validate
}

// Validate 校验参数，失败时返回 KindValidation 错误。
func (v *paramValidator) Validate(op string, obj interface{}) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() {
			return nil
		}
		return v.Validate(op, value.Elem().Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := v.Validate(op, value.Index(i).Interface()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		v.lazyInit()
		if err := v.validate.Struct(obj); err != nil {
			return &Error{Kind: KindValidation, Op: op, Message: describeValidation(err), Err: err}
		}
	}
	return nil
}

func (v *paramValidator) lazyInit() {
	v.once.Do(func() {
		v.validate = validator.New()
		v.validate.SetTagName(tagName)
	})
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "gte", "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", fe.Field(), map[string]string{"gte": ">=", "gt": ">"}[fe.Tag()], fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
