package main

import (
	"fmt"
	"os"

	"github.com/rushteam/movierec/core"
)

// 退出码
const (
	ExitSuccess = 0
	ExitError   = 1 // 运行时错误（数据源、存储等）
	ExitUsage   = 2 // 请求无效：未知模型 / 实体、参数非法
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case core.IsUnknownModel(err), core.IsUnknownEntity(err), core.IsInvalidInput(err):
		return ExitUsage
	}
	return ExitError
}
