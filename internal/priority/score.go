// Package priority はタスクの優先度スコア計算を提供する。
//
// スコアはティアごとの基礎点に期限の近さによる加点を足した整数で、
// 表示順（降順 = 緊急度が高い）にのみ使用する。
// スコアはタスク作成時に1回だけ計算し、時間経過による再計算は行わない。
package priority

import (
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/mentionbox/internal/model"
)

// Policy はスコア計算の方針。
// TierDominantがtrueの場合、MaxProximityBonus < TierStep を満たす必要があり、
// 上位ティアのタスクは期限に関わらず下位ティアより高いスコアになる。
// falseの場合のみ、期限が迫った下位ティアが上位ティアを上回ることを許す。
type Policy struct {
	TierStep          int           `yaml:"tier_step"`
	MaxProximityBonus int           `yaml:"max_proximity_bonus"`
	Horizon           time.Duration `yaml:"horizon"`
	TierDominant      bool          `yaml:"tier_dominant"`
}

// DefaultPolicy はデフォルトの方針を返す。
// ティア間隔1000点、期限加点は最大999点、加点対象は期限まで30日以内。
func DefaultPolicy() Policy {
	return Policy{
		TierStep:          1000,
		MaxProximityBonus: 999,
		Horizon:           30 * 24 * time.Hour,
		TierDominant:      true,
	}
}

// Validate は方針の整合性を確認する。
func (p Policy) Validate() error {
	if p.TierStep <= 0 {
		return fmt.Errorf("tier_step must be positive: %d", p.TierStep)
	}
	if p.MaxProximityBonus < 0 {
		return fmt.Errorf("max_proximity_bonus must not be negative: %d", p.MaxProximityBonus)
	}
	if p.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive: %s", p.Horizon)
	}
	if p.TierDominant && p.MaxProximityBonus >= p.TierStep {
		return fmt.Errorf("tier_dominant requires max_proximity_bonus (%d) < tier_step (%d)",
			p.MaxProximityBonus, p.TierStep)
	}
	return nil
}

// Score はティアと期限からスコアを計算する。
// 同一ティアでは期限が近いほど（期限超過は最大加点）スコアが高く、期限なしは加点0。
func (p Policy) Score(tier model.Priority, dueDate *time.Time, now time.Time) int {
	return tier.Rank()*p.TierStep + p.proximityBonus(dueDate, now)
}

// proximityBonus は期限までの残り時間に対して単調非増加な加点を返す。
func (p Policy) proximityBonus(dueDate *time.Time, now time.Time) int {
	if dueDate == nil || p.MaxProximityBonus == 0 {
		return 0
	}
	until := dueDate.Sub(now)
	if until <= 0 {
		return p.MaxProximityBonus
	}
	if until >= p.Horizon {
		return 0
	}
	ratio := float64(until) / float64(p.Horizon)
	return int(math.Round(float64(p.MaxProximityBonus) * (1 - ratio)))
}
