package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/spf13/cobra"
)

var (
	syncUserID uint
	syncAll    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "立即同步邮件",
	Long:  `拉取最近的 Gmail 邮件并完成标注，与 HTTP 的 POST /api/emails/sync 效果相同。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncAll == (syncUserID != 0) {
			return errors.New("请指定 --user <id> 或 --all 其中之一")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = services.WithSyncTrigger(ctx, "cli")
		out := cmd.OutOrStdout()

		if syncAll {
			results, err := application.Workflow.SyncAllUsers(ctx)
			if err != nil {
				return fmt.Errorf("同步失败: %w", err)
			}
			ids := make([]uint, 0, len(results))
			for id := range results {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for _, id := range ids {
				printSyncResult(cmd, id, results[id])
			}
			fmt.Fprintf(out, "共同步 %d 个用户\n", len(results))
			return nil
		}

		result, err := application.Workflow.SyncUser(ctx, syncUserID)
		if err != nil {
			return fmt.Errorf("同步用户 %d 失败: %w", syncUserID, err)
		}
		printSyncResult(cmd, syncUserID, result)
		return nil
	},
}

func printSyncResult(cmd *cobra.Command, userID uint, r *services.SyncResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "用户 %d: 新邮件 %d 封，模型标注 %d 封，本地规则 %d 封\n",
		userID, r.NewEmails, r.AIProcessed, r.FallbackUsed)
}

func init() {
	syncCmd.Flags().UintVar(&syncUserID, "user", 0, "要同步的用户 ID")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "同步所有已连接 Gmail 的用户")
}
