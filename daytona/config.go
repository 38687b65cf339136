package daytona

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daytonaio/sdk-go/internal/backoff"
	"github.com/daytonaio/sdk-go/internal/configfile"
	"github.com/daytonaio/sdk-go/internal/env"
	"github.com/daytonaio/sdk-go/internal/log"
)

// DefaultAPIURL 是未配置 API 地址时使用的控制面地址。
const DefaultAPIURL = "https://app.daytona.io/api"

// Config 客户端配置。未设置的字段依次从 .env/.env.local、环境变量、配置文件中读取。
type Config struct {
	// APIKey 用于鉴权，与 JWTToken 二选一。
	APIKey string

	// JWTToken 用于鉴权，必须同时提供 OrganizationID。
	JWTToken string

	// OrganizationID 使用 JWT 鉴权时所属的组织。
	OrganizationID string

	// APIURL 控制面地址，默认 https://app.daytona.io/api。
	APIURL string

	// Target 默认区域。
	Target string

	// HTTPClient 自定义 HTTP 客户端，默认 http.DefaultClient。
	HTTPClient *http.Client

	// Logger 日志记录器，默认输出 warn 以上级别到 stderr。
	Logger *zap.Logger

	// EventBus 事件总线配置。
	EventBus EventBusConfig

	// DisableEventBus 关闭事件总线，状态等待完全依赖轮询。
	DisableEventBus bool

	// Source 通过 X-Daytona-Source 头上报，默认 sdk-go。
	Source string

	// SkipDotEnv 不加载工作目录下的 .env 文件。
	SkipDotEnv bool
}

// EventBusConfig 配置控制面事件推送连接。零值字段使用默认值。
type EventBusConfig struct {
	Disabled bool
	// HandshakeTimeout 默认 10 秒
	HandshakeTimeout time.Duration
	// DisconnectDelay 最后一个订阅取消后延迟断开的时长，默认 30 秒
	DisconnectDelay time.Duration
	// ReconnectMin 与 ReconnectMax 是重连退避的初始值和上限，默认 1 秒与 30 秒
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// ReconnectAttempts 默认 10 次
	ReconnectAttempts int
}

func (c EventBusConfig) reconnectBackoff() backoff.Backoff {
	if c.ReconnectMin <= 0 && c.ReconnectMax <= 0 {
		return nil
	}
	initial, ceiling := c.ReconnectMin, c.ReconnectMax
	if initial <= 0 {
		initial = time.Second
	}
	if ceiling < initial {
		ceiling = initial
	}
	return backoff.Exponential(initial, 2, ceiling)
}

func loadDotEnv() {
	// .env.local 优先于 .env，两者都不会覆盖已有的环境变量
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		_ = godotenv.Load(name)
	}
}

// resolve 补全未设置的字段并校验鉴权信息。
func (c Config) resolve() (Config, error) {
	if !c.SkipDotEnv {
		loadDotEnv()
	}

	if c.Logger == nil {
		c.Logger = log.New(log.ParseLevel(env.LogLevelFromEnvironment(), zapcore.WarnLevel), "console")
	}

	if c.APIKey == "" && c.JWTToken == "" {
		c.APIKey = env.APIKeyFromEnvironment()
		if c.APIKey == "" {
			token, orgID := env.JWTFromEnvironment()
			c.JWTToken = token
			if c.OrganizationID == "" {
				c.OrganizationID = orgID
			}
		}
	}
	if c.APIURL == "" {
		u, deprecated := env.APIURLFromEnvironment()
		if deprecated {
			c.Logger.Warn("DAYTONA_SERVER_URL is deprecated, use DAYTONA_API_URL instead")
		}
		c.APIURL = u
	}
	if c.Target == "" {
		c.Target = env.TargetFromEnvironment()
	}
	if !c.DisableEventBus {
		if disabled, ok := env.DisableEventBusFromEnvironment(); ok {
			c.DisableEventBus = disabled
		}
	}
	c.DisableEventBus = c.DisableEventBus || c.EventBus.Disabled

	if c.APIKey == "" && c.JWTToken == "" || c.APIURL == "" || c.Target == "" {
		profile, err := configfile.ActiveProfile()
		if err != nil {
			c.Logger.Warn("failed to load config file", zap.Error(err))
		} else if profile != nil {
			if c.APIKey == "" && c.JWTToken == "" {
				c.APIKey = profile.APIKey
				c.JWTToken = profile.JWTToken
				if c.OrganizationID == "" {
					c.OrganizationID = profile.OrganizationID
				}
			}
			if c.APIURL == "" {
				c.APIURL = profile.APIURL
			}
			if c.Target == "" {
				c.Target = profile.Target
			}
		}
	}

	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Source == "" {
		c.Source = DefaultSource
	}

	const op = "Failed to configure Daytona client"
	switch {
	case c.APIKey != "":
	case c.JWTToken != "":
		if c.OrganizationID == "" {
			return c, newError(KindAuth, op, "organization ID is required when authenticating with a JWT token")
		}
		if err := inspectJWT(c.JWTToken, c.Logger); err != nil {
			return c, &Error{Kind: KindAuth, Op: op, Message: err.Error(), Err: err}
		}
	default:
		return c, newError(KindAuth, op, "API key or JWT token is required")
	}
	return c, nil
}

// inspectJWT 不校验签名，只拒绝格式错误的令牌，并对已过期的令牌打印警告。
func inspectJWT(token string, logger *zap.Logger) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return err
	}
	exp, err := claims.GetExpirationTime()
	if err == nil && exp != nil && exp.Before(time.Now()) {
		logger.Warn("JWT token has expired", zap.Time("expiresAt", exp.Time))
	}
	return nil
}
