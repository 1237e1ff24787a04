package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// keyCmd represents the key command group
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "API 密钥管理",
	Long:  `管理 API 密钥。仅在 require_api_key 开启时，/api 下的请求才需要携带 X-API-Key。`,
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "显示当前 API 密钥",
	Run: func(cmd *cobra.Command, args []string) {
		key := application.Auth.APIKeyManager.GetCurrentKey()
		if key == "" {
			fail("无法获取 API 密钥")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "当前 API 密钥:")
		fmt.Fprintln(out, key)
		if rotated := application.Auth.APIKeyManager.RotatedAt(); !rotated.IsZero() {
			fmt.Fprintf(out, "生成时间: %s\n", rotated.Format("2006-01-02 15:04:05"))
		}
		if !application.Config.RequireAPIKey {
			fmt.Fprintln(out, "提示: require_api_key 未开启，服务当前不校验该密钥。")
		}
	},
}

var keyResetYes bool

var keyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "重置 API 密钥",
	Long:  `生成新的 API 密钥，旧密钥立即失效。默认需要确认，--yes 跳过确认。`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		keys := application.Auth.APIKeyManager

		if !keyResetYes {
			fmt.Fprintln(out, "警告: 重置密钥后，所有使用旧密钥的客户端将无法访问系统。")
			fmt.Fprint(out, "确定要重置 API 密钥吗？(yes/no): ")
			input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				fail("读取输入失败: %v", err)
			}
			input = strings.TrimSpace(strings.ToLower(input))
			if input != "yes" && input != "y" {
				fmt.Fprintln(out, "操作已取消。")
				return
			}
		}

		newKey, err := keys.ResetKey()
		if err != nil {
			fail("重置密钥失败: %v", err)
		}
		application.Logs.LogAPIKeyReset(0)

		fmt.Fprintln(out, "API 密钥已重置成功！")
		fmt.Fprintln(out, "新的 API 密钥:")
		fmt.Fprintln(out, newKey)
	},
}

func init() {
	keyResetCmd.Flags().BoolVarP(&keyResetYes, "yes", "y", false, "跳过确认")
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyResetCmd)
}
