// Package draw holds the pure half of the prize draw: pool eligibility, the
// uniform pick, the stored countdown state and the countdown arithmetic.
package draw

import (
	"math/rand"
	"strconv"
	"time"

	"putting-live/apperr"
)

// DefaultCountdown is how long viewers spin names before the winner is revealed.
const DefaultCountdown = 3 * time.Second

var ErrNoEligiblePlayers = apperr.State(apperr.CodeNoEligiblePlayers, "no eligible players")

// Mode selects the eligibility rule and the storage slot of a draw.
type Mode int

const (
	ModeNormal Mode = iota
	ModeFinalGame
)

func ModeFor(finalGame bool) Mode {
	if finalGame {
		return ModeFinalGame
	}
	return ModeNormal
}

func (m Mode) String() string {
	if m == ModeFinalGame {
		return "final_game"
	}
	return "normal"
}

// Key is the ephemeral-store key for a competition's draw state.
func Key(mode Mode, competitionID int64) string {
	prefix := "draw:"
	if mode == ModeFinalGame {
		prefix = "final_game_draw:"
	}
	return prefix + strconv.FormatInt(competitionID, 10)
}

// Checkin is a player checked in to a competition's lottery.
type Checkin struct {
	ID            int64
	CompetitionID int64
	PlayerID      int64
	Name          string
	PrizeWon      bool
	CreatedAt     time.Time
}

// Eligible filters checkins down to the pool for mode. rosterPlayers holds the
// player ids already placed in the final-game roster.
func Eligible(checkins []Checkin, mode Mode, rosterPlayers map[int64]bool) []Checkin {
	pool := make([]Checkin, 0, len(checkins))
	for _, c := range checkins {
		switch mode {
		case ModeNormal:
			if c.PrizeWon {
				continue
			}
		case ModeFinalGame:
			if rosterPlayers[c.PlayerID] {
				continue
			}
		}
		pool = append(pool, c)
	}
	return pool
}

// Names returns the non-empty display names of pool, in pool order.
func Names(pool []Checkin) []string {
	names := make([]string, 0, len(pool))
	for _, c := range pool {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}

// Pick returns a uniformly random member of pool.
func Pick(rng *rand.Rand, pool []Checkin) (Checkin, error) {
	if len(pool) == 0 {
		return Checkin{}, ErrNoEligiblePlayers
	}
	if rng == nil {
		return pool[rand.Intn(len(pool))], nil
	}
	return pool[rng.Intn(len(pool))], nil
}
