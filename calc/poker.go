// calc/poker.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"fmt"
	"sort"
	"time"

	"github.com/airsports-no/livetracking/rand"
)

// PokerRule implements poker runs: each waypoint crossing deals a card
// from a shuffled deck, and the contestant's score is the value of the
// hand so far, normalised to 10000 points for the best possible hand.
type PokerRule struct {
	updater ScoreUpdater
	deal    func(card PlayingCard)

	deck     []string
	hand     []string
	reported float64
}

// NewPokerRule shuffles a fresh deck with the provided generator; the
// deal callback publishes each card to the event stream.
func NewPokerRule(updater ScoreUpdater, r *rand.Rand, deal func(card PlayingCard)) *PokerRule {
	deck := makeDeck()
	r.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return &PokerRule{updater: updater, deal: deal, deck: deck}
}

const (
	cardRanks = "23456789TJQKA"
	cardSuits = "shdc"
)

func makeDeck() []string {
	deck := make([]string, 0, 52)
	for _, r := range cardRanks {
		for _, s := range cardSuits {
			deck = append(deck, string(r)+string(s))
		}
	}
	return deck
}

func (r *PokerRule) GatePassed(gate *Gate, actual time.Time, track []Position) {
	if len(r.deck) == 0 || len(r.hand) >= 5 {
		return
	}

	card := r.deck[0]
	r.deck = r.deck[1:]
	r.hand = append(r.hand, card)

	if r.deal != nil {
		r.deal(PlayingCard{Card: card, Gate: gate.Name(), Time: actual})
	}

	score := 10000 * float64(EvaluateHand(r.hand)) / float64(maxHandValue)
	r.updater.UpdateScore(ScoreUpdate{
		Gate:       gate.Name(),
		Points:     score,
		Message:    fmt.Sprintf("%d cards", len(r.hand)),
		ScoreType:  PokerScoreType,
		EntryType:  EntryInformation,
		Cap:        NoCap,
		Previous:   r.reported,
		UpdateLast: r.reported > 0,
	})
	r.reported = score
}

func (r *PokerRule) MissedGate(previous, gate *Gate, pos *Position) {}

func (r *PokerRule) CalculateEnroute(track []Position, lastGate *Gate, inRange bool, next *Gate) {}

func (r *PokerRule) CalculateOutsideRoute(track []Position, lastGate *Gate) {}

func (r *PokerRule) PassedFinishpoint(track []Position, lastGate *Gate) {}

func (r *PokerRule) DangerLevel(track []Position) (float64, float64) {
	return 0, r.reported
}

// Hand returns the cards dealt so far.
func (r *PokerRule) Hand() []string {
	return r.hand
}

///////////////////////////////////////////////////////////////////////////
// hand evaluation

// Hand categories, low to high.
const (
	highCard = iota
	onePair
	twoPair
	threeOfAKind
	straight
	flush
	fullHouse
	fourOfAKind
	straightFlush
)

// maxHandValue is the value of a royal flush.
var maxHandValue = handValue(straightFlush, []int{12, 11, 10, 9, 8})

// EvaluateHand ranks a partial or complete poker hand (1-5 cards) as an
// integer: higher is better, and any hand of a higher category beats
// every hand of a lower one.
func EvaluateHand(cards []string) int {
	ranks := make([]int, 0, len(cards))
	suits := make(map[byte]int)
	counts := make(map[int]int)
	for _, c := range cards {
		rank := rankIndex(c[0])
		ranks = append(ranks, rank)
		counts[rank]++
		suits[c[1]]++
	}

	isFlush := len(cards) == 5 && len(suits) == 1
	straightHigh, isStraight := straightHighCard(ranks)

	// Group ranks by multiplicity, then by rank, so that e.g. the pair in
	// a pair hand dominates the kickers.
	groups := make([]int, 0, len(counts))
	for rank := range counts {
		groups = append(groups, rank)
	}
	sort.Slice(groups, func(i, j int) bool {
		if counts[groups[i]] != counts[groups[j]] {
			return counts[groups[i]] > counts[groups[j]]
		}
		return groups[i] > groups[j]
	})

	ordered := make([]int, 0, len(ranks))
	for _, rank := range groups {
		for i := 0; i < counts[rank]; i++ {
			ordered = append(ordered, rank)
		}
	}

	switch {
	case isFlush && isStraight:
		return handValue(straightFlush, []int{straightHigh})
	case counts[groups[0]] == 4:
		return handValue(fourOfAKind, ordered)
	case len(groups) >= 2 && counts[groups[0]] == 3 && counts[groups[1]] == 2:
		return handValue(fullHouse, ordered)
	case isFlush:
		return handValue(flush, ordered)
	case isStraight:
		return handValue(straight, []int{straightHigh})
	case counts[groups[0]] == 3:
		return handValue(threeOfAKind, ordered)
	case len(groups) >= 2 && counts[groups[0]] == 2 && counts[groups[1]] == 2:
		return handValue(twoPair, ordered)
	case counts[groups[0]] == 2:
		return handValue(onePair, ordered)
	default:
		return handValue(highCard, ordered)
	}
}

func rankIndex(r byte) int {
	for i := 0; i < len(cardRanks); i++ {
		if cardRanks[i] == r {
			return i
		}
	}
	return 0
}

func straightHighCard(ranks []int) (int, bool) {
	if len(ranks) != 5 {
		return 0, false
	}
	sorted := append([]int(nil), ranks...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	consecutive := true
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1]-1 {
			consecutive = false
			break
		}
	}
	if consecutive {
		return sorted[0], true
	}

	// The wheel: A-2-3-4-5.
	if sorted[0] == 12 && sorted[1] == 3 && sorted[2] == 2 && sorted[3] == 1 && sorted[4] == 0 {
		return 3, true
	}
	return 0, false
}

// handValue packs a category and up to five ordered ranks into a single
// comparable integer, base 13.
func handValue(category int, ranks []int) int {
	v := category
	for i := 0; i < 5; i++ {
		v *= 13
		if i < len(ranks) {
			v += ranks[i]
		}
	}
	return v
}
