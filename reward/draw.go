/*
Package reward implements the timed random point reward.

PURPOSE:
  A user may claim a random point draw once per cooldown window. The draw
  is tiered - a rare jackpot, a gold tier, and a silver tier - and the
  claim itself rides on the CooldownGate single-winner reservation, so N
  concurrent claims inside one window yield exactly one payout.

SEE ALSO:
  - claim.go: the transactional claim workflow
  - market/cooldown.go: the gate primitive
*/
package reward

import (
	"fmt"
	"math/rand/v2"
)

// DrawPolicy configures the tiered draw. Probabilities are fractions of 1;
// tier amounts are aligned down/up to whole hundreds.
type DrawPolicy struct {
	JackpotProb   float64
	JackpotPoints int64
	GoldProb      float64
	GoldMin       int64
	GoldMax       int64
	SilverMin     int64
	SilverMax     int64
}

// DefaultDrawPolicy mirrors the production odds: 0.1% jackpot, 20% gold.
func DefaultDrawPolicy() DrawPolicy {
	return DrawPolicy{
		JackpotProb:   0.001,
		JackpotPoints: 100_000,
		GoldProb:      0.2,
		GoldMin:       1_000,
		GoldMax:       10_000,
		SilverMin:     100,
		SilverMax:     900,
	}
}

// drawScale is the integer resolution of the probability thresholds.
const drawScale = 1_000_000

// Validate rejects policies whose tiers cannot be drawn from.
func (p DrawPolicy) Validate() error {
	if p.JackpotProb < 0 || p.GoldProb < 0 || p.JackpotProb+p.GoldProb > 1 {
		return fmt.Errorf("invalid probabilities: jackpot %v + gold %v must be within [0, 1]",
			p.JackpotProb, p.GoldProb)
	}
	if _, _, err := alignHundreds(p.GoldMin, p.GoldMax); err != nil {
		return fmt.Errorf("gold range: %w", err)
	}
	if _, _, err := alignHundreds(p.SilverMin, p.SilverMax); err != nil {
		return fmt.Errorf("silver range: %w", err)
	}
	return nil
}

// thresholds converts the probabilities to cutoffs over [1, drawScale].
func (p DrawPolicy) thresholds() (jackpotUpto, goldUpto int64) {
	jackpotUpto = int64(p.JackpotProb*drawScale + 0.5)
	gold := int64(p.GoldProb*drawScale + 0.5)
	if jackpotUpto+gold > drawScale {
		gold = drawScale - jackpotUpto
	}
	return jackpotUpto, jackpotUpto + gold
}

// alignHundreds clamps a range to whole-hundred endpoints.
func alignHundreds(min, max int64) (int64, int64, error) {
	effMin := (min + 99) / 100 * 100
	effMax := max / 100 * 100
	if effMin > effMax {
		return 0, 0, fmt.Errorf("range [%d, %d] holds no multiple of 100", min, max)
	}
	return effMin, effMax, nil
}

// Draw picks a point amount according to the policy. roll(n) must return a
// uniform value in [0, n); pass nil for the default random source.
func Draw(p DrawPolicy, roll func(n int64) int64) int64 {
	if roll == nil {
		roll = rand.Int64N
	}

	jackpotUpto, goldUpto := p.thresholds()
	r := roll(drawScale) + 1 // [1, drawScale]

	switch {
	case r <= jackpotUpto:
		return p.JackpotPoints
	case r <= goldUpto:
		return drawHundreds(p.GoldMin, p.GoldMax, roll)
	default:
		return drawHundreds(p.SilverMin, p.SilverMax, roll)
	}
}

// drawHundreds picks a multiple of 100 uniformly within [min, max].
func drawHundreds(min, max int64, roll func(n int64) int64) int64 {
	effMin, effMax, err := alignHundreds(min, max)
	if err != nil {
		// Validate keeps this unreachable for configured policies.
		return effMin
	}
	steps := (effMax-effMin)/100 + 1
	return effMin + roll(steps)*100
}
