package daytona

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// CodeRun 支持的语言。
const (
	LanguagePython     = "python"
	LanguageJavaScript = "javascript"
	LanguageTypeScript = "typescript"
)

// codeBuilder 把源代码包装成可以在沙箱 shell 中执行的命令。
type codeBuilder interface {
	Language() string
	RunCommand(code string, argv []string) string
}

func codeBuilderFor(language string) (codeBuilder, error) {
	switch language {
	case "", LanguagePython:
		return pythonBuilder{}, nil
	case LanguageJavaScript:
		return javaScriptBuilder{}, nil
	case LanguageTypeScript:
		return typeScriptBuilder{}, nil
	}
	return nil, fmt.Errorf("unsupported language %q", language)
}

func joinArgv(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return " " + strings.Join(quoted, " ")
}

// shellQuote 用单引号包裹 s，内部的单引号被转义。
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type pythonBuilder struct{}

func (pythonBuilder) Language() string { return LanguagePython }

func (pythonBuilder) RunCommand(code string, argv []string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(code))
	return fmt.Sprintf(`python3 -u -c "exec(__import__('base64').b64decode('%s').decode())"%s`, encoded, joinArgv(argv))
}

type javaScriptBuilder struct{}

func (javaScriptBuilder) Language() string { return LanguageJavaScript }

func (javaScriptBuilder) RunCommand(code string, argv []string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(code))
	return fmt.Sprintf(`printf '%%s' '%s' | base64 -d | node -%s 2>&1 | grep -vE "npm notice"`, encoded, joinArgv(argv))
}

type typeScriptBuilder struct{}

func (typeScriptBuilder) Language() string { return LanguageTypeScript }

func (typeScriptBuilder) RunCommand(code string, argv []string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(code))
	return fmt.Sprintf(`_f=/tmp/dtn_$$.ts; printf '%%s' '%s' | base64 -d > "$_f"; npx ts-node -T --ignore-diagnostics 5107 -O '{"module":"CommonJS"}' "$_f"%s 2>&1 | grep -vE "npm notice"; _dtn_ec=$?; rm -f "$_f"; exit $_dtn_ec`, encoded, joinArgv(argv))
}
