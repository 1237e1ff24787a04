package cli

import (
	"fmt"
	"os"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/app"
	"github.com/spf13/cobra"
)

var application *app.App

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "secretary",
	Short: "行政秘书助手后端服务",
	Long: `行政秘书助手：从 Gmail 读取邮件，由模型或本地规则标注，经人工批准后生成任务和日历事件。

不带参数运行时启动 HTTP 服务；带子命令时执行管理操作：
  - 密钥管理：查看和重置 API 密钥
  - 用户管理：创建用户、列出用户、重置用户密码
  - 邮件同步：为指定用户或全部用户执行一次同步

使用示例：
  secretary key show             # 显示当前 API 密钥
  secretary key reset            # 重置 API 密钥
  secretary user create          # 创建新用户
  secretary user list            # 列出所有用户
  secretary user reset-pwd       # 重置用户密码
  secretary sync --user 1        # 同步用户 1 的邮件
  secretary sync --all           # 同步所有已连接 Gmail 的用户`,
	SilenceUsage: true,
}

// Execute runs the CLI against an assembled application
func Execute(a *app.App) {
	application = a
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fail prints the error the way every command reports it
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "错误: "+format+"\n", args...)
	os.Exit(1)
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(syncCmd)
}
