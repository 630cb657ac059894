package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"BlockJack/internal/bridge"
	"BlockJack/internal/game/manager"
	"BlockJack/internal/storage"
)

var ErrInvalidRoom = errors.New("lobby: invalid room")

// Submitter 持久写入口，bridge.Writer 实现
type Submitter interface {
	Submit(ctx context.Context, op bridge.Operation, payload any) (bridge.Result, error)
}

// Sessions 在线 session 的只读视图，manager.Registry 实现
type Sessions interface {
	Active() []manager.SessionInfo
}

type Service struct {
	cache    Cache
	store    storage.Store
	writer   Submitter
	sessions Sessions
	ttl      time.Duration
	log      *log.Logger
}

func NewService(cache Cache, store storage.Store, writer Submitter, ttl time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{cache: cache, store: store, writer: writer, ttl: ttl, log: logger.WithPrefix("lobby")}
}

// BindSessions registry 依赖 lobby 做鉴权，这里反向注入避免构造循环
func (s *Service) BindSessions(sessions Sessions) {
	s.sessions = sessions
}

func validate(req RegisterRequest) error {
	n := utf8.RuneCountInString(req.Name)
	switch {
	case n < 1 || n > 64:
		return fmt.Errorf("%w: name must be 1-64 characters", ErrInvalidRoom)
	case req.MaxPlayers < 2 || req.MaxPlayers > 7:
		return fmt.Errorf("%w: maxPlayers must be between 2 and 7", ErrInvalidRoom)
	case req.MinBet < 1 || req.MinBet > req.MaxBet:
		return fmt.Errorf("%w: bet limits must satisfy 1 <= minBet <= maxBet", ErrInvalidRoom)
	case req.Visibility != VisibilityPublic && req.Visibility != VisibilityPrivate:
		return fmt.Errorf("%w: visibility must be public or private", ErrInvalidRoom)
	case req.Visibility == VisibilityPrivate && req.Password == "":
		return fmt.Errorf("%w: private room requires a password", ErrInvalidRoom)
	}
	return nil
}

// Register 校验、生成 id 并提交 create-room。持久层降级时房间先进缓存，稍后由 Retrier 落库
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	if err := validate(req); err != nil {
		return RegisterResponse{}, err
	}

	room := storage.Room{
		ID:         uuid.NewString(),
		Name:       req.Name,
		MaxPlayers: req.MaxPlayers,
		MinBet:     req.MinBet,
		MaxBet:     req.MaxBet,
		Visibility: req.Visibility,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Visibility == VisibilityPrivate {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return RegisterResponse{}, err
		}
		room.PasswordHash = string(hash)
	}

	if err := s.cache.Put(ctx, room, s.ttl); err != nil {
		return RegisterResponse{}, err
	}
	res, err := s.writer.Submit(ctx, bridge.OpCreateRoom, room)
	if err != nil {
		_ = s.cache.Delete(ctx, room.ID)
		return RegisterResponse{}, err
	}
	s.log.Info("room registered", "id", room.ID, "name", room.Name, "mode", res.Mode())
	return RegisterResponse{ID: room.ID, Queued: res.Queued, Mode: res.Mode()}, nil
}

// Get 先查缓存再查持久层，返回值包含密码哈希，对外需经 viewOf
func (s *Service) Get(ctx context.Context, id string) (storage.Room, error) {
	room, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		s.log.Warn("cache get failed", "id", id, "err", err)
	}
	if ok {
		return room, nil
	}
	room, err = s.store.GetRoom(ctx, id)
	if err != nil {
		return storage.Room{}, err
	}
	if err := s.cache.Put(ctx, room, s.ttl); err != nil {
		s.log.Warn("cache fill failed", "id", id, "err", err)
	}
	return room, nil
}

// Authorize 供 registry 在加入房间时调用
func (s *Service) Authorize(ctx context.Context, roomID, password string) (storage.Room, error) {
	room, err := s.Get(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Room{}, manager.ErrRoomNotFound
	}
	if err != nil {
		return storage.Room{}, err
	}
	if room.Visibility == VisibilityPrivate {
		if bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)) != nil {
			return storage.Room{}, manager.ErrWrongPassword
		}
	}
	return room, nil
}

// View 单个房间带上在线数据
func (s *Service) View(ctx context.Context, id string) (RoomView, error) {
	room, err := s.Get(ctx, id)
	if err != nil {
		return RoomView{}, err
	}
	v := viewOf(room)
	for _, info := range s.active() {
		if info.ID == id {
			v.Status = string(info.Phase)
			v.PlayerCount = info.PlayerCount
			v.Round = info.Round
		}
	}
	return v, nil
}

// ListActive 缓存中的房间合并在线 session 数据；有 session 但缓存已过期的房间回源补齐
func (s *Service) ListActive(ctx context.Context) ([]RoomView, error) {
	rooms, err := s.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]manager.SessionInfo)
	for _, info := range s.active() {
		live[info.ID] = info
	}

	out := make([]RoomView, 0, len(rooms))
	seen := make(map[string]bool, len(rooms))
	add := func(room storage.Room) {
		v := viewOf(room)
		if info, ok := live[room.ID]; ok {
			v.Status = string(info.Phase)
			v.PlayerCount = info.PlayerCount
			v.Round = info.Round
		}
		seen[room.ID] = true
		out = append(out, v)
	}
	for _, room := range rooms {
		add(room)
	}
	for id := range live {
		if seen[id] {
			continue
		}
		room, err := s.Get(ctx, id)
		if err != nil {
			s.log.Warn("live session without room", "id", id, "err", err)
			continue
		}
		add(room)
	}
	return out, nil
}

// Close session 回收后调用：删缓存并提交 delete-room
func (s *Service) Close(ctx context.Context, roomID string) error {
	if err := s.cache.Delete(ctx, roomID); err != nil {
		s.log.Warn("cache delete failed", "id", roomID, "err", err)
	}
	_, err := s.writer.Submit(ctx, bridge.OpDeleteRoom, bridge.DeleteRoom{ID: roomID})
	return err
}

func (s *Service) active() []manager.SessionInfo {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Active()
}
