package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"creditsync/internal/config"
	"creditsync/internal/infrastructure/backend"
	"creditsync/internal/infrastructure/cache"
	"creditsync/internal/infrastructure/database"
	"creditsync/internal/service"
	"creditsync/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Runtime 命令执行依赖
type Runtime struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	Backend service.AccountBackend

	closers []func() error
}

// Close 只释放 openRuntime 建立的连接
func (r *Runtime) Close() {
	for _, c := range r.closers {
		c()
	}
}

var (
	configPath string
	rt         *Runtime

	// OpenRuntime 按配置文件建立连接，测试中可替换
	OpenRuntime = openRuntime
)

func openRuntime(path string) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	idgen.Init(cfg.Server.WorkerID)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	rdb, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Backend: backend.NewClient(&cfg.Backend),
		closers: []func() error{rdb.Close, sqlDB.Close},
	}, nil
}

var rootCmd = &cobra.Command{
	Use:           "creditctl",
	Short:         "额度同步运维工具",
	Long:          `creditctl 直接操作额度账本：手动同步远端余额、查询余额、修改套餐、重放失败的支付回调。`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		r, err := OpenRuntime(configPath)
		if err != nil {
			return err
		}
		rt = r
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil {
			rt.Close()
			rt = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "配置文件路径")
}

// Execute 执行命令行
func Execute(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func requireUser(cmd *cobra.Command) (int64, error) {
	userID, _ := cmd.Flags().GetInt64("user")
	if userID <= 0 {
		return 0, fmt.Errorf("需要指定 --user")
	}
	return userID, nil
}
