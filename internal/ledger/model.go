package ledger

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/shopspring/decimal"
)

// attemptRecord is the GORM model an ExecutionAttempt is persisted as.
// Amounts that can exceed an int64 (repay/seize amounts, gas used) are
// stored as decimal strings rather than numeric columns.
type attemptRecord struct {
	ID              string    `gorm:"primaryKey;type:varchar(40)"`
	ChainID         int64     `gorm:"index;not null"`
	CandidateDigest string    `gorm:"type:varchar(255);index"`
	Status          string    `gorm:"type:varchar(20);not null;index"`
	Reason          string    `gorm:"type:varchar(64)"`
	TxHash          string    `gorm:"type:varchar(80);index"`
	GasUsed         string    `gorm:"type:varchar(78)"`
	Details         string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index;autoCreateTime"`
}

// TableName pins the table name explicitly rather than relying on
// GORM's pluralization.
func (attemptRecord) TableName() string {
	return "execution_attempts"
}

// planDetails is the JSON shape stored in attemptRecord.Details. Every
// USD/amount display field uses decimal.Decimal so persisted records
// never lose precision to float formatting; the engine's own profit
// math upstream of this package stays plain float64.
type planDetails struct {
	RepayAmount      string          `json:"repayAmount,omitempty"`
	SeizedCollateral string          `json:"seizedCollateral,omitempty"`
	GrossProfitUsd   decimal.Decimal `json:"grossProfitUsd"`
	EstimatedGasUsd  decimal.Decimal `json:"estimatedGasUsd"`
	NetProfitUsd     decimal.Decimal `json:"netProfitUsd"`
	SlippageBps      int             `json:"slippageBps"`
	Router           string          `json:"router,omitempty"`
}

func toRecord(attempt types.ExecutionAttempt) attemptRecord {
	record := attemptRecord{
		ID:              attempt.ID,
		ChainID:         attempt.ChainID,
		CandidateDigest: attempt.CandidateDigest,
		Status:          string(attempt.Status),
		Reason:          attempt.Reason,
		TxHash:          attempt.TxHash,
		GasUsed:         bigIntToString(attempt.GasUsed),
		CreatedAt:       attempt.CreatedAt,
	}

	if attempt.Plan != nil {
		details := planDetails{
			RepayAmount:      bigIntToString(attempt.Plan.RepayAmount),
			SeizedCollateral: bigIntToString(attempt.Plan.SeizedCollateral),
			GrossProfitUsd:   decimal.NewFromFloat(attempt.Plan.GrossProfitUsd),
			EstimatedGasUsd:  decimal.NewFromFloat(attempt.Plan.EstimatedGasUsd),
			NetProfitUsd:     decimal.NewFromFloat(attempt.Plan.NetProfitUsd),
			SlippageBps:      attempt.Plan.SlippageBps,
		}
		if len(attempt.Plan.Route) > 0 {
			details.Router = attempt.Plan.Route[0].Router
		}
		if blob, err := json.Marshal(details); err == nil {
			record.Details = string(blob)
		}
	}

	return record
}

func bigIntToString(value *big.Int) string {
	if value == nil {
		return ""
	}
	return value.String()
}

func fromRecord(record attemptRecord) types.ExecutionAttempt {
	attempt := types.ExecutionAttempt{
		ID:              record.ID,
		ChainID:         record.ChainID,
		CandidateDigest: record.CandidateDigest,
		Status:          types.AttemptStatus(record.Status),
		Reason:          record.Reason,
		TxHash:          record.TxHash,
		GasUsed:         stringToBigInt(record.GasUsed),
		CreatedAt:       record.CreatedAt,
	}

	if record.Details == "" {
		return attempt
	}
	var details planDetails
	if err := json.Unmarshal([]byte(record.Details), &details); err != nil {
		return attempt
	}
	attempt.Plan = &types.Plan{
		CandidateID:      record.CandidateDigest,
		RepayAmount:      stringToBigInt(details.RepayAmount),
		SeizedCollateral: stringToBigInt(details.SeizedCollateral),
		GrossProfitUsd:   details.GrossProfitUsd.InexactFloat64(),
		EstimatedGasUsd:  details.EstimatedGasUsd.InexactFloat64(),
		NetProfitUsd:     details.NetProfitUsd.InexactFloat64(),
		SlippageBps:      details.SlippageBps,
	}
	if details.Router != "" {
		attempt.Plan.Route = []types.RouteHop{{Router: details.Router}}
	}
	return attempt
}

func stringToBigInt(value string) *big.Int {
	if value == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil
	}
	return n
}
