//go:build !unix

package stream

import "os"

// Windows 不支持向子进程发送 Interrupt：Signal 返回错误后直接进入 Kill。
var gracefulSignals = []os.Signal{os.Interrupt}
