// 包 domain 账务模块的领域模型：账户桶、余额账本、现金流记录与补款守卫
package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound 账户不存在
	ErrAccountNotFound = errors.New("account not found")
	// ErrUnsupportedAccountType 账户类型不支持该操作
	ErrUnsupportedAccountType = errors.New("unsupported account type")
	// ErrRecorderNotConfigured 现金流记录器未注入（部署错误）
	ErrRecorderNotConfigured = errors.New("cash flow recorder not configured")
	// ErrConverterNotConfigured 货币转换器未注入（部署错误）
	ErrConverterNotConfigured = errors.New("currency converter not configured")
)

// AccountType 账户桶类型
type AccountType string

const (
	// AccountTypeDebit 资金储备桶，补款来源
	AccountTypeDebit AccountType = "DEBIT"
	// AccountTypeCredit 多头买入资金桶
	AccountTypeCredit AccountType = "CREDIT"
	// AccountTypeShortCredit 空头回补资金桶
	AccountTypeShortCredit AccountType = "SHORT_CREDIT"
	// AccountTypeInvestor 外部出入金桶
	AccountTypeInvestor AccountType = "INVESTOR"
)

// Valid 校验账户类型合法性
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeDebit, AccountTypeCredit, AccountTypeShortCredit, AccountTypeInvestor:
		return true
	default:
		return false
	}
}

// GuardEligible 是否允许作为补款守卫的目标账户
func (t AccountType) GuardEligible() bool {
	return t == AccountTypeCredit || t == AccountTypeShortCredit
}

// Account 账户实体
// 按 (用户, 账户桶类型, 货币) 唯一；首次引用时隐式创建，只清零不删除。
type Account struct {
	gorm.Model
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;uniqueIndex:idx_user_type_ccy;not null" json:"user_id"`
	// 账户桶类型
	AccountType AccountType `gorm:"column:account_type;type:varchar(16);uniqueIndex:idx_user_type_ccy;not null" json:"account_type"`
	// 货币
	Currency string `gorm:"column:currency;type:varchar(10);uniqueIndex:idx_user_type_ccy;not null" json:"currency"`
	// 余额
	Balance decimal.Decimal `gorm:"column:balance;type:decimal(32,8);default:0;not null" json:"balance"`
}

// TableName 指定表名
func (Account) TableName() string {
	return "fund_accounts"
}

// Key 返回账本内部索引键
func (a *Account) Key() string {
	return BalanceKey(a.AccountType, a.Currency)
}

// BalanceKey 组合 (账户类型, 货币) 的账本索引键
func BalanceKey(accountType AccountType, currency string) string {
	return fmt.Sprintf("%s/%s", accountType, currency)
}

// AccountRepository 账户仓储接口
type AccountRepository interface {
	// Save 保存或更新账户余额
	Save(ctx context.Context, account *Account) error
	// Get 获取指定账户
	Get(ctx context.Context, userID string, accountType AccountType, currency string) (*Account, error)
	// GetByUser 获取用户的全部账户
	GetByUser(ctx context.Context, userID string) ([]*Account, error)
	// ExecWithBarrier 在 DTM 事务屏障内执行（幂等重试支持）
	ExecWithBarrier(ctx context.Context, barrier any, fn func(ctx context.Context) error) error
}
