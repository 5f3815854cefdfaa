package cli

import (
	"fmt"

	"creditsync/internal/service"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(linkCmd, eventsCmd, outboxCmd, txnCmd)
	eventsCmd.AddCommand(eventsFailedCmd, eventsReplayCmd)
	outboxCmd.AddCommand(outboxRequeueCmd)

	linkCmd.Flags().Int64("user", 0, "用户 ID")
	linkCmd.Flags().Int64("account", 0, "远端账户 ID")
	eventsFailedCmd.Flags().Int("limit", 50, "最多列出的条数")
	outboxRequeueCmd.Flags().Int("limit", 100, "最多重投的条数")
}

func opsService() *service.OpsService {
	return service.NewOpsService(rt.DB, rt.Redis, rt.Backend, rt.Config)
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "为用户关联远端账户",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := requireUser(cmd)
		if err != nil {
			return err
		}
		accountID, _ := cmd.Flags().GetInt64("account")

		if err := opsService().LinkAccount(cmd.Context(), userID, accountID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已关联: user=%d account=%d\n", userID, accountID)
		return nil
	},
}

// ─── events ─────────────────────────────────────────────────────────────────

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "支付回调事件",
}

var eventsFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "列出处理失败、等待重试的回调事件",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := opsService().FailedWebhookEvents(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, events)
	},
}

var eventsReplayCmd = &cobra.Command{
	Use:   "replay PROVIDER EVENT_ID",
	Short: "用落库数据重新处理一条失败的回调事件",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := opsService().ReplayWebhookEvent(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

// ─── outbox ─────────────────────────────────────────────────────────────────

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "账本事件消息表",
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "把投递失败的消息放回待发送队列",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		n, err := opsService().RequeueFailedOutbox(cmd.Context(), limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已重新排队 %d 条消息\n", n)
		return nil
	},
}

// ─── txn ────────────────────────────────────────────────────────────────────

var txnCmd = &cobra.Command{
	Use:   "txn TRANSACTION_NO",
	Short: "按流水号查看流水",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trans, err := opsService().GetTransaction(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if trans == nil {
			return fmt.Errorf("流水不存在: %s", args[0])
		}
		return printJSON(cmd, trans)
	},
}
