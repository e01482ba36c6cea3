package balance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/pkg/exchanges/binance/futures_usdt"
)

// Exchange is the subset of the signed futures client the service reads.
type Exchange interface {
	GetAccountInfo(ctx context.Context) (*futures_usdt.FuturesAccountInfo, error)
	GetUserTrades(ctx context.Context, symbol string, limit int) ([]futures_usdt.UserTrade, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Service reads account state for one symbol and caches the last snapshot.
type Service struct {
	exchange Exchange
	symbol   string
	log      zerolog.Logger

	mu       sync.RWMutex
	last     Account
	lastSync time.Time
}

func NewService(exchange Exchange, symbol string, log zerolog.Logger) *Service {
	return &Service{exchange: exchange, symbol: symbol, log: log}
}

// Account returns the USDT wallet balance and every non-zero position.
func (s *Service) Account(ctx context.Context) (Account, error) {
	info, err := s.exchange.GetAccountInfo(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("fetch account: %w", err)
	}

	acct := Account{Positions: []Position{}}
	for _, a := range info.Assets {
		if a.Asset == "USDT" {
			acct.Balance = parse(a.WalletBalance)
			break
		}
	}
	for _, p := range info.Positions {
		amt := parse(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := SideLong
		if amt < 0 {
			side = SideShort
		}
		lev, _ := strconv.Atoi(p.Leverage)
		pos := Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          math.Abs(amt),
			EntryPrice:    parse(p.EntryPrice),
			UnrealizedPnL: parse(p.UnrealizedProfit),
			Leverage:      lev,
		}
		acct.Positions = append(acct.Positions, pos)
		acct.UnrealizedPnL += pos.UnrealizedPnL
	}

	s.mu.Lock()
	s.last = acct
	s.lastSync = time.Now()
	s.mu.Unlock()

	s.log.Debug().Float64("balance", acct.Balance).Int("positions", len(acct.Positions)).Msg("account synced")
	return acct, nil
}

// Cached returns the last fetched account and when it was fetched.
func (s *Service) Cached() (Account, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastSync
}

// RecentTrades returns the last limit fills for the symbol.
func (s *Service) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	raw, err := s.exchange.GetUserTrades(ctx, s.symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch user trades: %w", err)
	}
	out := make([]Trade, 0, len(raw))
	for _, t := range raw {
		out = append(out, Trade{
			Time:        t.Time,
			Side:        t.Side,
			Price:       parse(t.Price),
			Qty:         parse(t.Qty),
			RealizedPnL: parse(t.RealizedPnl),
			Commission:  parse(t.Commission),
		})
	}
	return out, nil
}

// CurrentPrice returns the last traded price.
func (s *Service) CurrentPrice(ctx context.Context) (float64, error) {
	p, err := s.exchange.GetPrice(ctx, s.symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	return p, nil
}

func parse(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
