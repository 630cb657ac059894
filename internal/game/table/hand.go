package table

// HandValue 计算手牌点数：A 先按 11 计，超过 21 时逐张降为 1
func HandValue(cards []Card) int {
	total, aces := 0, 0
	for _, c := range cards {
		total += c.Value
		if c.IsAce() {
			aces++
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

// IsBlackjack 两张牌且 21 点
func IsBlackjack(cards []Card) bool {
	return len(cards) == 2 && HandValue(cards) == 21
}

func IsBusted(cards []Card) bool {
	return HandValue(cards) > 21
}

type Result string

const (
	ResultBlackjack Result = "blackjack"
	ResultWin       Result = "win"
	ResultPush      Result = "push"
	ResultLose      Result = "lose"
	ResultBust      Result = "bust"
)

// Outcome 结算输入
type Outcome struct {
	Bet             int64
	PlayerValue     int
	DealerValue     int
	PlayerBlackjack bool
	DealerBlackjack bool
	PlayerBusted    bool
	DealerBusted    bool
}

// Settle 返回结果与派彩（包含本金）。
// 黑杰克 3:2，庄家同为黑杰克则平局；爆牌输；庄家爆牌或点数大赢 1:1；平局退本金
func Settle(o Outcome) (Result, int64) {
	switch {
	case o.PlayerBlackjack && o.DealerBlackjack:
		return ResultPush, o.Bet
	case o.PlayerBlackjack:
		return ResultBlackjack, o.Bet + o.Bet*3/2
	case o.PlayerBusted:
		return ResultBust, 0
	case o.DealerBusted, o.PlayerValue > o.DealerValue:
		return ResultWin, o.Bet * 2
	case o.PlayerValue == o.DealerValue:
		return ResultPush, o.Bet
	default:
		return ResultLose, 0
	}
}

// Won/Lost 用于统计胜负场次；push 两者都不是
func (r Result) Won() bool {
	return r == ResultWin || r == ResultBlackjack
}

func (r Result) Lost() bool {
	return r == ResultLose || r == ResultBust
}
