package engine

import (
	"time"

	"BlockJack/internal/events"
	"BlockJack/internal/game/table"
)

const dealerStandValue = 17

func (s *Session) join(userID, name string, balance int64) error {
	if len(s.slots) >= s.cfg.MaxPlayers {
		return ErrRoomFull
	}
	if _, ok := s.slots[userID]; ok {
		return ErrAlreadyJoined
	}
	if s.phase != PhaseWaiting && s.phase != PhaseFinished {
		return ErrRoomBusy
	}

	now := time.Now()
	rec, ok := s.players[userID]
	if !ok {
		rec = &PlayerSessionRecord{
			UserID:         userID,
			Name:           name,
			InitialBalance: balance,
			CurrentBalance: balance,
			JoinedAt:       now,
		}
		s.players[userID] = rec
		s.joinSeq = append(s.joinSeq, userID)
	}
	rec.UpdatedAt = now

	// 同一 session 内重进沿用之前的余额
	s.slots[userID] = &slot{
		userID:  userID,
		name:    name,
		balance: rec.CurrentBalance,
		active:  true,
	}
	s.seats = append(s.seats, userID)
	s.syncCount()
	s.log.Info("player joined", "user", userID, "players", len(s.slots))

	s.broadcastState()
	if s.phase == PhaseWaiting && s.activeCount() >= 2 && s.pending != timerJoinGrace {
		s.schedule(timerJoinGrace, s.cfg.JoinGrace, s.startBetting)
	}
	return nil
}

func (s *Session) leave(userID string) error {
	sl, ok := s.slots[userID]
	if !ok || !sl.active {
		return ErrNotInRoom
	}

	switch {
	case s.phase == PhaseBetting && sl.bet > 0:
		// 还没发牌，退回下注
		sl.balance += sl.bet
		sl.bet = 0
		s.order = without(s.order, userID)
		s.removeSlot(userID)
	case sl.bet > 0 && s.inRound():
		// 已经在局中：保留座位按停牌处理，结算后再移除
		sl.active = false
		if !sl.busted && !sl.blackjack {
			sl.standing = true
		}
	default:
		s.removeSlot(userID)
	}
	s.syncBalance(sl)
	s.syncCount()
	s.log.Info("player left", "user", userID, "active", s.activeCount())

	if s.activeCount() == 0 {
		if s.inRound() {
			s.forfeit()
		}
		s.reset()
		if s.hooks.Empty != nil {
			s.hooks.Empty(s.cfg.RoomID)
		}
		return nil
	}
	s.broadcastState()

	switch s.phase {
	case PhaseWaiting:
		if s.activeCount() < 2 && s.pending == timerJoinGrace {
			s.cancelTimer()
		}
	case PhaseBetting:
		if s.activeCount() < 2 {
			s.abortBetting()
		} else if s.allBetsIn() {
			s.startDealing()
		}
	case PhasePlaying:
		if s.activeCount() == 1 {
			s.beginDealerTurn()
		} else if s.currentTurn() == userID {
			s.advanceTurn()
		}
	}
	return nil
}

func (s *Session) placeBet(userID string, amount int64) error {
	sl, ok := s.slots[userID]
	if !ok || !sl.active {
		return ErrNotInRoom
	}
	if s.phase != PhaseBetting {
		return ErrWrongPhase
	}
	if sl.bet != 0 {
		return ErrBetAlreadyPlaced
	}
	if amount < s.cfg.MinBet || amount > s.cfg.MaxBet {
		return ErrBetOutOfRange
	}
	if amount > sl.balance {
		return ErrInsufficientBalance
	}

	sl.balance -= amount
	sl.bet = amount
	s.order = append(s.order, userID)
	s.syncBalance(sl)
	s.publish(events.BetPlaced, map[string]any{"userId": userID, "amount": amount})

	if s.allBetsIn() {
		s.startDealing()
	}
	return nil
}

func (s *Session) hit(userID string) error {
	sl, ok := s.slots[userID]
	if !ok || !sl.active {
		return ErrNotInRoom
	}
	if s.phase != PhasePlaying {
		return ErrWrongPhase
	}
	if sl.standing || sl.busted || sl.blackjack || sl.bet == 0 {
		return ErrHandFinished
	}
	if s.currentTurn() != userID {
		return ErrNotYourTurn
	}

	card := s.shoe.Draw()
	sl.hand = append(sl.hand, card)
	value := table.HandValue(sl.hand)
	s.publish(events.CardDealt, map[string]any{
		"userId": userID,
		"card":   card,
		"hand":   sl.hand,
		"value":  value,
	})

	switch {
	case value > 21:
		sl.busted = true
		s.publish(events.PlayerBusted, map[string]any{"userId": userID})
		s.advanceTurn()
	case value == 21:
		sl.standing = true
		s.publish(events.PlayerStood, map[string]any{"userId": userID})
		s.advanceTurn()
	default:
		s.startTurnTimer(userID)
	}
	return nil
}

func (s *Session) stand(userID string) error {
	sl, ok := s.slots[userID]
	if !ok || !sl.active {
		return ErrNotInRoom
	}
	if s.phase != PhasePlaying {
		return ErrWrongPhase
	}
	if sl.standing || sl.busted || sl.blackjack || sl.bet == 0 {
		return ErrHandFinished
	}
	if s.currentTurn() != userID {
		return ErrNotYourTurn
	}

	sl.standing = true
	s.publish(events.PlayerStood, map[string]any{"userId": userID})
	s.advanceTurn()
	return nil
}

// startBetting 只能从 WAITING / FINISHED 进入；不足两人则回到 WAITING
func (s *Session) startBetting() {
	invariant(s.phase == PhaseWaiting || s.phase == PhaseFinished,
		"betting started from phase %s", s.phase)

	s.removeAbsent()
	if s.activeCount() < 2 {
		s.cancelTimer()
		s.phase = PhaseWaiting
		s.broadcastState()
		return
	}

	s.round++
	for _, sl := range s.slots {
		sl.hand = nil
		sl.bet = 0
		sl.standing = false
		sl.busted = false
		sl.blackjack = false
	}
	s.order = nil
	s.dealer = nil
	s.turn = -1
	s.phase = PhaseBetting

	s.publish(events.BettingPhase, map[string]any{
		"round":       s.round,
		"minBet":      s.cfg.MinBet,
		"maxBet":      s.cfg.MaxBet,
		"countdownMs": s.cfg.BettingCountdown.Milliseconds(),
	})
	s.schedule(timerBetting, s.cfg.BettingCountdown, s.startDealing)
}

// abortBetting 下注阶段人数不足，退回所有下注
func (s *Session) abortBetting() {
	s.cancelTimer()
	for _, sl := range s.slots {
		sl.balance += sl.bet
		sl.bet = 0
		s.syncBalance(sl)
	}
	s.order = nil
	s.phase = PhaseWaiting
	s.broadcastState()
}

func (s *Session) startDealing() {
	invariant(s.phase == PhaseBetting, "dealing started from phase %s", s.phase)
	s.cancelTimer()

	if s.activeCount() < 2 {
		s.abortBetting()
		return
	}
	players := s.participants()
	if len(players) == 0 {
		// 倒计时结束没人下注，本局空过
		s.phase = PhaseFinished
		s.broadcastState()
		s.schedule(timerNextRound, s.cfg.RoundDelay, s.startBetting)
		return
	}

	s.phase = PhaseDealing
	if s.shoe.NeedsReshuffle() {
		s.shoe.Reshuffle()
		s.log.Debug("shoe reshuffled", "round", s.round)
	}
	for i := 0; i < 2; i++ {
		for _, sl := range players {
			sl.hand = append(sl.hand, s.shoe.Draw())
		}
		s.dealer = append(s.dealer, s.shoe.Draw())
	}

	views := make([]PlayerView, 0, len(players))
	for _, sl := range players {
		sl.blackjack = table.IsBlackjack(sl.hand)
		views = append(views, sl.view())
	}
	s.publish(events.CardsDealt, map[string]any{
		"round":   s.round,
		"players": views,
		"dealer":  s.dealerView(),
	})

	if table.IsBlackjack(s.dealer) {
		s.beginDealerTurn()
		return
	}
	s.phase = PhasePlaying
	s.turn = -1
	s.advanceTurn()
}

// advanceTurn 按下注顺序找下一个还能行动的玩家，没有则进入庄家回合
func (s *Session) advanceTurn() {
	for i := s.turn + 1; i < len(s.order); i++ {
		sl, ok := s.slots[s.order[i]]
		if !ok || !sl.active || sl.standing || sl.busted || sl.blackjack {
			continue
		}
		s.turn = i
		s.publish(events.PlayerTurn, map[string]any{
			"userId":    sl.userID,
			"timeoutMs": s.cfg.TurnTimeout.Milliseconds(),
		})
		s.startTurnTimer(sl.userID)
		return
	}
	s.beginDealerTurn()
}

func (s *Session) startTurnTimer(userID string) {
	s.schedule(timerTurn, s.cfg.TurnTimeout, func() { s.turnTimedOut(userID) })
}

func (s *Session) turnTimedOut(userID string) {
	if s.phase != PhasePlaying || s.currentTurn() != userID {
		return
	}
	if sl, ok := s.slots[userID]; ok {
		sl.standing = true
	}
	s.publish(events.PlayerStood, map[string]any{"userId": userID, "reason": "timeout"})
	s.advanceTurn()
}

func (s *Session) beginDealerTurn() {
	s.cancelTimer()
	s.phase = PhaseDealerTurn
	s.turn = len(s.order)
	s.publish(events.DealerReveal, map[string]any{
		"hand":  s.dealer,
		"value": table.HandValue(s.dealer),
	})
	s.schedule(timerDealer, s.cfg.DealerPacing, s.dealerStep)
}

// dealerStep 庄家不到 17 点就要牌（软 17 也停），每张牌间隔 DealerPacing
func (s *Session) dealerStep() {
	if table.HandValue(s.dealer) < dealerStandValue {
		card := s.shoe.Draw()
		s.dealer = append(s.dealer, card)
		s.publish(events.DealerHit, map[string]any{
			"card":  card,
			"hand":  s.dealer,
			"value": table.HandValue(s.dealer),
		})
		s.schedule(timerDealer, s.cfg.DealerPacing, s.dealerStep)
		return
	}
	s.resolve()
}

func (s *Session) resolve() {
	invariant(s.phase == PhaseDealerTurn, "resolve from phase %s", s.phase)
	invariant(s.resolved != s.round, "round %d resolved twice", s.round)
	s.resolved = s.round
	s.phase = PhaseFinished

	dealerValue := table.HandValue(s.dealer)
	dealerBlackjack := table.IsBlackjack(s.dealer)

	results := make([]RoundResult, 0, len(s.order))
	for _, id := range s.order {
		sl, ok := s.slots[id]
		if !ok || sl.bet == 0 {
			continue
		}
		value := table.HandValue(sl.hand)
		res, payout := table.Settle(table.Outcome{
			Bet:             sl.bet,
			PlayerValue:     value,
			DealerValue:     dealerValue,
			PlayerBlackjack: sl.blackjack,
			DealerBlackjack: dealerBlackjack,
			PlayerBusted:    sl.busted || value > 21,
			DealerBusted:    dealerValue > 21,
		})
		sl.balance += payout

		rec := s.players[id]
		rec.RoundsPlayed++
		switch {
		case res.Won():
			rec.RoundsWon++
		case res.Lost():
			rec.RoundsLost++
		default:
			rec.RoundsPushed++
		}
		s.syncBalance(sl)

		results = append(results, RoundResult{
			UserID:  id,
			Hand:    append([]table.Card(nil), sl.hand...),
			Value:   value,
			Bet:     sl.bet,
			Result:  res,
			Payout:  payout,
			Balance: sl.balance,
		})
	}
	s.finishRound(results, dealerValue)

	s.removeAbsent()
	s.syncCount()
	s.broadcastState()
	s.schedule(timerNextRound, s.cfg.RoundDelay, s.startBetting)
}

// forfeit 局中所有玩家都离开：已下的注全部判负，照常产出一局记录
func (s *Session) forfeit() {
	invariant(s.resolved != s.round, "round %d resolved twice", s.round)
	s.resolved = s.round

	results := make([]RoundResult, 0, len(s.order))
	for _, id := range s.order {
		sl, ok := s.slots[id]
		if !ok || sl.bet == 0 {
			continue
		}
		res := table.ResultLose
		if sl.busted {
			res = table.ResultBust
		}
		rec := s.players[id]
		rec.RoundsPlayed++
		rec.RoundsLost++
		s.syncBalance(sl)
		results = append(results, RoundResult{
			UserID:  id,
			Hand:    append([]table.Card(nil), sl.hand...),
			Value:   table.HandValue(sl.hand),
			Bet:     sl.bet,
			Result:  res,
			Balance: sl.balance,
		})
	}
	if len(results) == 0 {
		return
	}
	s.finishRound(results, table.HandValue(s.dealer))
}

// finishRound 记一局并交给 RoundFinished
func (s *Session) finishRound(results []RoundResult, dealerValue int) {
	s.record.TotalRounds++

	s.publish(events.RoundFinished, map[string]any{
		"round":   s.round,
		"dealer":  map[string]any{"hand": s.dealer, "value": dealerValue},
		"results": results,
	})

	outcome := RoundOutcome{
		Round: RoundRecord{
			SessionID:   s.record.ID,
			RoomID:      s.cfg.RoomID,
			Sequence:    s.record.TotalRounds,
			Round:       s.round,
			DealerHand:  append([]table.Card(nil), s.dealer...),
			DealerValue: dealerValue,
			Players:     results,
			FinishedAt:  time.Now(),
		},
		Session: s.recordCopy(),
	}
	if s.hooks.RoundFinished != nil {
		s.hooks.RoundFinished(outcome)
	}
}

// reset 房间清空：回到 WAITING，局数归零
func (s *Session) reset() {
	s.cancelTimer()
	s.phase = PhaseWaiting
	s.round = 0
	s.resolved = 0
	s.turn = -1
	s.order = nil
	s.dealer = nil
	s.seats = nil
	s.slots = make(map[string]*slot)
	s.syncCount()
}

func (s *Session) inRound() bool {
	return s.phase == PhaseDealing || s.phase == PhasePlaying || s.phase == PhaseDealerTurn
}

func (s *Session) currentTurn() string {
	if s.phase != PhasePlaying || s.turn < 0 || s.turn >= len(s.order) {
		return ""
	}
	return s.order[s.turn]
}

func (s *Session) participants() []*slot {
	out := make([]*slot, 0, len(s.order))
	for _, id := range s.order {
		if sl, ok := s.slots[id]; ok && sl.bet > 0 {
			out = append(out, sl)
		}
	}
	return out
}

func (s *Session) allBetsIn() bool {
	n := 0
	for _, sl := range s.slots {
		if !sl.active {
			continue
		}
		if sl.bet == 0 {
			return false
		}
		n++
	}
	return n > 0
}

func (s *Session) activeCount() int {
	n := 0
	for _, sl := range s.slots {
		if sl.active {
			n++
		}
	}
	return n
}

func (s *Session) removeSlot(userID string) {
	delete(s.slots, userID)
	s.seats = without(s.seats, userID)
}

func (s *Session) removeAbsent() {
	for id, sl := range s.slots {
		if !sl.active {
			s.removeSlot(id)
		}
	}
}

func (s *Session) syncCount() {
	s.playerCount.Store(int32(s.activeCount()))
}

func (s *Session) syncBalance(sl *slot) {
	if rec, ok := s.players[sl.userID]; ok {
		rec.CurrentBalance = sl.balance
		rec.UpdatedAt = time.Now()
	}
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
