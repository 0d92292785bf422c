package model

import "nebula/pkg/constance"

// Result 控制面统一返回体
type Result struct {
	Code constance.ResultCode `json:"code"`
	Msg  string               `json:"msg,omitempty"`
	Data interface{}          `json:"data,omitempty"`
}

func OkResult(data interface{}) *Result {
	return &Result{Code: constance.ResultSuccess, Data: data}
}

func FailResult(code constance.ResultCode, msg string) *Result {
	return &Result{Code: code, Msg: msg}
}
