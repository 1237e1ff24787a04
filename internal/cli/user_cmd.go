package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// userCmd represents the user command group
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "用户管理",
	Long:  `管理系统用户，包括创建用户、列出用户和重置用户密码。`,
}

// readLine reads one trimmed line
func readLine(reader *bufio.Reader, prompt string, out io.Writer) string {
	fmt.Fprint(out, prompt)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		fail("读取输入失败: %v", err)
	}
	return strings.TrimSpace(line)
}

// readNewPassword asks twice with hidden input
func readNewPassword(out io.Writer) string {
	fmt.Fprintf(out, "请输入密码 (至少%d位): ", services.MinPasswordLength)
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		fail("读取密码失败: %v", err)
	}
	password := string(passwordBytes)
	if len(password) < services.MinPasswordLength {
		fail("密码长度至少为%d位", services.MinPasswordLength)
	}

	fmt.Fprint(out, "请再次输入密码: ")
	confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		fail("读取密码失败: %v", err)
	}
	if password != string(confirmBytes) {
		fail("两次输入的密码不一致")
	}
	return password
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建新用户",
	Long:  `交互式创建密码登录的用户，需要输入邮箱、密码和姓名。`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		reader := bufio.NewReader(os.Stdin)

		email := readLine(reader, "请输入邮箱: ", out)
		if email == "" {
			fail("邮箱不能为空")
		}
		password := readNewPassword(out)
		fullName := readLine(reader, "请输入姓名 (可选，直接回车跳过): ", out)

		newUser, err := application.Users.CreateUser(email, password, fullName)
		if err != nil {
			fail("创建用户失败: %v", err)
		}
		application.Logs.LogInfo(newUser.ID, models.LogModuleCLI, "user_create", "User created from CLI", nil)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "用户创建成功！")
		fmt.Fprintf(out, "  ID: %d\n", newUser.ID)
		fmt.Fprintf(out, "  邮箱: %s\n", newUser.Email)
		fmt.Fprintf(out, "  姓名: %s\n", newUser.FullName)
	},
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有用户",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		users, err := application.Users.ListUsers()
		if err != nil {
			fail("获取用户列表失败: %v", err)
		}

		if len(users) == 0 {
			fmt.Fprintln(out, "系统中暂无用户。")
			return
		}

		fmt.Fprintln(out, "用户列表:")
		fmt.Fprintln(out, "------------------------------------------------------------")
		fmt.Fprintf(out, "%-6s %-30s %-8s %-8s %s\n", "ID", "邮箱", "Gmail", "日历", "创建时间")
		fmt.Fprintln(out, "------------------------------------------------------------")
		for _, u := range users {
			fmt.Fprintf(out, "%-6d %-30s %-8s %-8s %s\n", u.ID, u.Email, yesNo(u.HasGmail()), yesNo(u.HasCalendar()),
				u.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(out, "------------------------------------------------------------")
		fmt.Fprintf(out, "共 %d 个用户\n", len(users))
	},
}

var userResetPwdCmd = &cobra.Command{
	Use:   "reset-pwd",
	Short: "重置用户密码",
	Long:  `交互式重置指定用户的密码。此操作需要确认。`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		reader := bufio.NewReader(os.Stdin)

		users, err := application.Users.ListUsers()
		if err != nil {
			fail("获取用户列表失败: %v", err)
		}
		if len(users) == 0 {
			fmt.Fprintln(out, "系统中暂无用户。")
			return
		}

		fmt.Fprintln(out, "可用用户:")
		for _, u := range users {
			fmt.Fprintf(out, "  [%d] %s (%s)\n", u.ID, u.Email, u.FullName)
		}
		fmt.Fprintln(out)

		userID, err := strconv.ParseUint(readLine(reader, "请输入要重置密码的用户 ID: ", out), 10, 32)
		if err != nil {
			fail("无效的用户 ID")
		}
		targetUser, err := application.Users.GetUserByID(uint(userID))
		if err != nil {
			fail("用户不存在: %v", err)
		}

		fmt.Fprintf(out, "\n警告: 即将重置用户 '%s' (ID: %d) 的密码。\n", targetUser.Email, targetUser.ID)
		confirm := strings.ToLower(readLine(reader, "确定要继续吗？(yes/no): ", out))
		if confirm != "yes" && confirm != "y" {
			fmt.Fprintln(out, "操作已取消。")
			return
		}

		if err := application.Users.ResetPassword(targetUser.ID, readNewPassword(out)); err != nil {
			fail("重置密码失败: %v", err)
		}
		application.Logs.LogInfo(targetUser.ID, models.LogModuleCLI, "password_reset", "Password reset from CLI", nil)

		fmt.Fprintln(out)
		fmt.Fprintf(out, "用户 '%s' 的密码已重置成功！\n", targetUser.Email)
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userResetPwdCmd)
}
