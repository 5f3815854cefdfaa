package cli

import (
	"fmt"
	"time"

	"creditsync/internal/service"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd, statusCmd, balanceCmd, planCmd, staleCmd)

	for _, cmd := range []*cobra.Command{syncCmd, statusCmd, balanceCmd, planCmd} {
		cmd.Flags().Int64("user", 0, "用户 ID")
	}
	syncCmd.Flags().Bool("force", false, "余额一致时也写入同步时间")
	planCmd.Flags().String("plan", "", "目标套餐 (free/hobbyist/pro/developer)")
	staleCmd.Flags().Duration("age", 0, "同步时间早于该时长的用户，默认取配置")
	staleCmd.Flags().Int("limit", 100, "最多处理的用户数")
}

// ─── sync ───────────────────────────────────────────────────────────────────

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "以远端余额为准同步本地余额",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser(cmd)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		svc := service.NewSyncService(rt.DB, rt.Redis, rt.Backend, rt.Config)
		result, err := svc.Sync(cmd.Context(), userID, force, service.TriggerCommand)
		if err != nil {
			return err
		}
		if !result.Synced {
			fmt.Fprintf(cmd.OutOrStdout(), "已是最新余额: %d\n", result.NewCredits)
			return nil
		}
		return printJSON(cmd, result)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看本地与远端余额差异，不写数据",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser(cmd)
		if err != nil {
			return err
		}

		svc := service.NewSyncService(rt.DB, rt.Redis, rt.Backend, rt.Config)
		status, err := svc.GetSyncStatus(cmd.Context(), userID)
		if err != nil {
			return err
		}
		return printJSON(cmd, status)
	},
}

// ─── balance ────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "查看用户余额",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser(cmd)
		if err != nil {
			return err
		}

		svc := service.NewAccountService(rt.DB, rt.Backend)
		view, err := svc.GetBalance(cmd.Context(), userID)
		if err != nil {
			return err
		}
		return printJSON(cmd, view)
	},
}

// ─── plan ───────────────────────────────────────────────────────────────────

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "修改用户套餐并同步到远端",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser(cmd)
		if err != nil {
			return err
		}
		plan, _ := cmd.Flags().GetString("plan")

		svc := service.NewPlanService(rt.DB, rt.Redis, rt.Backend, rt.Config)
		result, err := svc.ChangePlan(cmd.Context(), userID, plan, service.TriggerCommand)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

// ─── stale ──────────────────────────────────────────────────────────────────

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "批量同步长时间未同步的用户",
	RunE: func(cmd *cobra.Command, args []string) error {
		age, _ := cmd.Flags().GetDuration("age")
		if age <= 0 {
			age = rt.Config.Business.StaleSyncAge
		}
		if age <= 0 {
			age = time.Hour
		}
		limit, _ := cmd.Flags().GetInt("limit")

		svc := service.NewSyncService(rt.DB, rt.Redis, rt.Backend, rt.Config)
		n, err := svc.SyncStale(cmd.Context(), age, limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已同步 %d 个用户\n", n)
		return nil
	},
}
