//go:build !unix

package fsx

// 非 unix 平台不区分 EXDEV：Move 直接返回 rename 错误。
func isEXDEV(err error) bool { return false }
