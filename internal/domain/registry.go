package domain

// ModelInfo 任务信封中 model 名到表结构的静态映射
type ModelInfo struct {
	Table        string
	Columns      []string
	UniqueUserID bool // user_id 上有唯一约束，调和时需先查现状
}

// Models 调和引擎可操作的实体注册表
var Models = map[string]ModelInfo{
	"User": {
		Table:        "users",
		Columns:      []string{"id", "user_id", "username", "trial_used", "subscription_end"},
		UniqueUserID: true,
	},
	"UserLinks": {
		Table:        "links",
		Columns:      []string{"id", "user_id", "uuid", "panel1", "panel2"},
		UniqueUserID: true,
	},
	"PaymentData": {
		Table:        "payments",
		Columns:      []string{"id", "payment_id", "user_id", "amount", "created_at"},
		UniqueUserID: false,
	},
}
