package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proofmint/intermezzo/pkg/errno"
)

// Response 所有接口统一的返回体，业务错误也返回 HTTP 200，靠 code 区分
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

func write(c *gin.Context, code int, msg string, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, Response{Code: code, Message: msg, Data: data})
}

func Success(c *gin.Context, data interface{}) {
	write(c, errno.OK.Code, errno.OK.Message, data)
}

func Error(c *gin.Context, err error) {
	ErrorWithData(c, err, nil)
}

// ErrorWithData 错误响应带上 data，交易类错误会放 outcome_unknown 等字段
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	code, msg := errno.Decode(err)
	write(c, code, msg, data)
}
