// Package version 提供 SDK 的版本信息。
// 构建时可以通过 -ldflags 注入版本信息，例如：
//
//	go build -ldflags "-X github.com/lgc202/stripe-go-kit/version.gitVersion=v1.2.3"
//
// 版本信息同时用于生成请求头 User-Agent 和 X-Stripe-Client-User-Agent。
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/gosuri/uitable"
)

// Name 是 SDK 在 User-Agent 中使用的名称
const Name = "stripe-go-kit"

// ClientUserAgentHeader 是携带客户端描述信息的请求头
const ClientUserAgentHeader = "X-Stripe-Client-User-Agent"

var (
	// gitVersion 是语义化的版本号，格式为 vMAJOR.MINOR.PATCH[-PRERELEASE][+BUILD]
	gitVersion = "v0.0.0-master+$Format:%h$"
	// buildDate 是 ISO8601 格式的构建时间, $(date -u +'%Y-%m-%dT%H:%M:%SZ') 命令的输出
	buildDate = "1970-01-01T00:00:00Z"
	// gitCommit 是 Git 的 SHA1 值，$(git rev-parse HEAD) 命令的输出
	gitCommit = "$Format:%H$"
	// gitTreeState 代表构建时 Git 仓库的状态，值为 clean 或 dirty
	gitTreeState = ""
)

// Info 包含了版本信息
type Info struct {
	SDK          string `json:"sdk"`
	GitVersion   string `json:"gitVersion"`
	GitCommit    string `json:"gitCommit"`
	GitTreeState string `json:"gitTreeState,omitempty"`
	BuildDate    string `json:"buildDate"`
	GoVersion    string `json:"goVersion"`
	Compiler     string `json:"compiler"`
	Platform     string `json:"platform"`
}

// String 返回人性化的版本信息字符串
func (info Info) String() string {
	if info.GitTreeState == "dirty" {
		return info.GitVersion + "-dirty"
	}
	return info.GitVersion
}

// ShortString 返回简短的版本字符串，仅包含版本号
func (info Info) ShortString() string {
	return info.GitVersion
}

// ToJSONIndent 以格式化的 JSON 格式返回版本信息
func (info Info) ToJSONIndent() (string, error) {
	s, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal version info: %w", err)
	}
	return string(s), nil
}

// Text 以对齐的表格形式返回版本信息
func (info Info) Text() string {
	table := uitable.New()
	table.RightAlign(0)
	table.MaxColWidth = 80
	table.Separator = " "
	table.AddRow("sdk:", info.SDK)
	table.AddRow("gitVersion:", info.GitVersion)
	table.AddRow("gitCommit:", info.GitCommit)
	if info.GitTreeState != "" {
		table.AddRow("gitTreeState:", info.GitTreeState)
	}
	table.AddRow("buildDate:", info.BuildDate)
	table.AddRow("goVersion:", info.GoVersion)
	table.AddRow("compiler:", info.Compiler)
	table.AddRow("platform:", info.Platform)

	return table.String()
}

// UserAgent 返回形如 "stripe-go-kit/v1.2.3" 的 User-Agent
func (info Info) UserAgent() string {
	v := strings.TrimPrefix(info.GitVersion, "v")
	if v == "" {
		v = "unknown"
	}
	return info.SDK + "/v" + v
}

// ClientUserAgent 描述发起请求的客户端，以 JSON 形式放在 ClientUserAgentHeader 中
type ClientUserAgent struct {
	BindingsVersion string `json:"bindings_version"`
	Lang            string `json:"lang"`
	LangVersion     string `json:"lang_version"`
	Publisher       string `json:"publisher"`
	Uname           string `json:"uname"`
}

// ClientUserAgent 根据版本信息生成客户端描述
func (info Info) ClientUserAgent() ClientUserAgent {
	return ClientUserAgent{
		BindingsVersion: info.GitVersion,
		Lang:            "go",
		LangVersion:     info.GoVersion,
		Publisher:       info.SDK,
		Uname:           info.Platform,
	}
}

// ClientUserAgentJSON 返回 ClientUserAgent 的 JSON 编码，失败时返回空字符串
func (info Info) ClientUserAgentJSON() string {
	b, err := json.Marshal(info.ClientUserAgent())
	if err != nil {
		return ""
	}
	return string(b)
}

// Get 返回当前二进制的版本信息
func Get() Info {
	return Info{
		SDK:          Name,
		GitVersion:   gitVersion,
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		BuildDate:    buildDate,
		GoVersion:    runtime.Version(),
		Compiler:     runtime.Compiler,
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
