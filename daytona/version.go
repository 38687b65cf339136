package daytona

import (
	"fmt"
	"runtime"
)

// Version 是 SDK 版本，通过 X-Daytona-SDK-Version 头上报。
const Version = "0.1.0"

// DefaultSource 是 X-Daytona-Source 头的默认值。
const DefaultSource = "sdk-go"

// userAgent 形如 daytona-sdk-go/0.1.0 (linux; amd64; go1.22.1)
func userAgent() string {
	return fmt.Sprintf("daytona-sdk-go/%s (%s; %s; %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
