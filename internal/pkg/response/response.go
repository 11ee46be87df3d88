package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodeResourceNotFound = 1003
	CodeConflict         = 1006
	CodeServerError      = 5000
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodeResourceNotFound: "资源不存在",
	CodeConflict:         "资源冲突",
	CodeServerError:      "服务器内部错误",
}

// Response 统一响应结构，HTTP 状态码始终为 200，以 code 区分结果
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, codeMessages[CodeSuccess], data)
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	Success(c, PageData{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	})
}

// Error 错误响应，message 为空时使用错误码的默认消息
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func AuthError(c *gin.Context, message string) {
	Error(c, CodeAuthFailed, message)
}

func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// ConflictError 资源状态冲突，例如仓库已有进行中的分析
func ConflictError(c *gin.Context, message string) {
	Error(c, CodeConflict, message)
}

// RetryLater 冲突且可在 seconds 秒后重试，附带 Retry-After 头
func RetryLater(c *gin.Context, message string, seconds int) {
	if seconds > 0 {
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	Error(c, CodeConflict, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}
