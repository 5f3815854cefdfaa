package idgen

import (
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
//   0 - 41位时间戳 - 10位节点ID - 12位序列号
//
// 流水号要求全局唯一、趋势递增，便于按时间范围对账
//
// ============================================================================

func init() {
	// 起始时间 2024-01-01 00:00:00 UTC
	snowflake.Epoch = 1704067200000
}

var (
	node *snowflake.Node
	once sync.Once
)

// Init 初始化默认节点，workerID 取值 0-1023，多次调用只有第一次生效
func Init(workerID int64) {
	once.Do(func() {
		n, err := snowflake.NewNode(workerID)
		if err != nil {
			log.Fatalf("初始化 ID 生成器失败: %v", err)
		}
		node = n
	})
}

// NextID 生成下一个ID
func NextID() int64 {
	Init(1)
	return node.Generate().Int64()
}

func generate(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, NextID())
}

// GenerateTransactionNo 生成流水号
// 格式：TXN + 完整雪花ID，例如 TXN1852465193740849152
func GenerateTransactionNo() string {
	return generate("TXN")
}
