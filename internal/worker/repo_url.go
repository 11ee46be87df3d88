package worker

import (
	"net/url"
	"strings"
)

// RepoURLError 仓库地址校验错误，UserMessage 直接展示给调用方
type RepoURLError struct {
	UserMessage string
	RawError    error
}

func (e *RepoURLError) Error() string {
	return e.UserMessage
}

func (e *RepoURLError) Unwrap() error {
	return e.RawError
}

// ValidateRepoURL 验证仓库 URL 格式
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return &RepoURLError{
			UserMessage: "仓库地址不能为空",
		}
	}

	if strings.HasPrefix(repoURL, "git@") {
		// git@github.com:user/repo.git 格式
		if !strings.Contains(repoURL, ":") || strings.HasSuffix(repoURL, ":") {
			return &RepoURLError{
				UserMessage: "仓库地址格式不正确，请检查后重试",
			}
		}
		return nil
	}

	if !strings.HasPrefix(repoURL, "https://") {
		return &RepoURLError{
			UserMessage: "仓库地址格式不正确，请使用 https:// 或 git@ 开头的地址",
		}
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return &RepoURLError{
			UserMessage: "仓库地址格式不正确，请检查后重试",
			RawError:    err,
		}
	}

	if u.Host == "" {
		return &RepoURLError{
			UserMessage: "仓库地址缺少域名，请检查后重试",
		}
	}

	// 路径至少需要 /user/repo
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return &RepoURLError{
			UserMessage: "仓库地址不完整，请提供完整的 用户名/仓库名 地址",
		}
	}

	return nil
}
