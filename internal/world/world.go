// Package world is an in-memory game world: connected players, placed
// structures, breathable volumes and hazardous regions. It implements every
// collaborator the storm service consumes and backs the stormd host.
package world

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/radstorm/storm-server-go/internal/storm"
	"go.uber.org/zap"
)

const defaultMaxHP = 100

var (
	// ErrUnknownPlayer is returned for operations on a player id that is not connected.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrUnknownRegion is returned when removing a region that is not registered.
	ErrUnknownRegion = errors.New("unknown hazard region")
	// ErrDuplicateName is returned when a player name is already taken.
	ErrDuplicateName = errors.New("player name already connected")
)

type player struct {
	id      string
	name    string
	pos     storm.Vec3
	hp      int
	maxHP   int
	admin   bool
	effects map[uint16]int16
}

// PlayerView is a read-only copy of a player's state.
type PlayerView struct {
	ID       string
	Name     string
	Position storm.Vec3
	HP       int
	MaxHP    int
	Admin    bool
	Dead     bool
	Effects  []uint16
}

func (p *player) view() PlayerView {
	effects := make([]uint16, 0, len(p.effects))
	for id := range p.effects {
		effects = append(effects, id)
	}
	sort.Slice(effects, func(i, j int) bool { return effects[i] < effects[j] })
	return PlayerView{
		ID:       p.id,
		Name:     p.name,
		Position: p.pos,
		HP:       p.hp,
		MaxHP:    p.maxHP,
		Admin:    p.admin,
		Dead:     p.hp <= 0,
		Effects:  effects,
	}
}

// participant is the snapshot handed to the storm; it never aliases world state.
type participant struct {
	id    string
	pos   storm.Vec3
	dead  bool
	admin bool
}

func (p participant) ID() string { return p.id }
func (p participant) Position() storm.Vec3 { return p.pos }
func (p participant) Dead() bool { return p.dead }
func (p participant) IsAdmin() bool { return p.admin }

func (p *player) participant() storm.Participant {
	return participant{id: p.id, pos: p.pos, dead: p.hp <= 0, admin: p.admin}
}

// DamageRecord is one entry of the world's damage log.
type DamageRecord struct {
	PlayerID string
	Amount   int
	Cause    storm.DamageCause
	At       time.Time
}

// Structure is a placed building piece.
type Structure struct {
	ID           string
	ItemID       uint16
	Position     storm.Vec3
	Interactable any
}

// OxygenVolume is a spherical breathable volume.
type OxygenVolume struct {
	Center storm.Vec3
	Radius float64
}

// alpha is 1 at the center, falling to 0 at the boundary.
func (v OxygenVolume) alpha(pos storm.Vec3) (float64, bool) {
	if v.Radius <= 0 {
		return 0, false
	}
	dist := pos.Sub(v.Center).Magnitude()
	if dist > v.Radius {
		return 0, false
	}
	return 1 - dist/v.Radius, true
}

// World is safe for concurrent use.
type World struct {
	mu     sync.RWMutex
	logger *zap.Logger
	now    func() time.Time

	players    map[string]*player
	order      []string
	structures []*Structure
	volumes    []OxygenVolume
	regions    []*Deadzone
	refreshes  int

	mapSize      uint8
	mapSizeKnown bool

	weather    string
	damageLog  []DamageRecord
	broadcasts []string
}

// New creates an empty world.
func New(logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &World{
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		players: make(map[string]*player),
	}
}

// SetClock overrides the time source used for damage records.
func (w *World) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// SetMapSize sets the map size class reported to the storm.
func (w *World) SetMapSize(size uint8) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mapSize = size
	w.mapSizeKnown = true
}

// Join connects a player and returns their id.
func (w *World) Join(name string, pos storm.Vec3, admin bool) (string, error) {
	return w.JoinWithHP(name, pos, admin, defaultMaxHP)
}

// JoinWithHP connects a player with a custom health pool.
func (w *World) JoinWithHP(name string, pos storm.Vec3, admin bool, hp int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("player name is required")
	}
	if hp <= 0 {
		hp = defaultMaxHP
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.players {
		if strings.EqualFold(p.name, name) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	}
	p := &player{
		id:      uuid.New().String(),
		name:    name,
		pos:     pos,
		hp:      hp,
		maxHP:   hp,
		admin:   admin,
		effects: make(map[uint16]int16),
	}
	w.players[p.id] = p
	w.order = append(w.order, p.id)
	w.logger.Info("player joined",
		zap.String("player_id", p.id),
		zap.String("name", name),
		zap.Bool("admin", admin),
	)
	return p.id, nil
}

// Leave disconnects a player.
func (w *World) Leave(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.players[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	delete(w.players, id)
	for i, pid := range w.order {
		if pid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.logger.Info("player left", zap.String("player_id", id))
	return nil
}

// Move teleports a player.
func (w *World) Move(id string, pos storm.Vec3) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	p.pos = pos
	return nil
}

// Heal restores a player to full health.
func (w *World) Heal(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	p.hp = p.maxHP
	return nil
}

// Player returns a copy of one player's state.
func (w *World) Player(id string) (PlayerView, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok {
		return PlayerView{}, false
	}
	return p.view(), true
}

// PlayerByName looks a player up by case-insensitive name.
func (w *World) PlayerByName(name string) (PlayerView, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, id := range w.order {
		p := w.players[id]
		if strings.EqualFold(p.name, name) {
			return p.view(), true
		}
	}
	return PlayerView{}, false
}

// Players returns every connected player in join order.
func (w *World) Players() []PlayerView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]PlayerView, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.players[id].view())
	}
	return out
}

// Participants implements storm.ParticipantSource.
func (w *World) Participants() []storm.Participant {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]storm.Participant, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.players[id].participant())
	}
	return out
}

// Participant implements storm.ParticipantSource.
func (w *World) Participant(id string) (storm.Participant, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok {
		return nil, false
	}
	return p.participant(), true
}

// ApplyDamage implements storm.DamageSink.
func (w *World) ApplyDamage(sp storm.Participant, amount int, cause storm.DamageCause) error {
	if sp == nil {
		return ErrUnknownPlayer
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[sp.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, sp.ID())
	}
	if p.hp <= 0 {
		return nil
	}
	p.hp -= amount
	if p.hp < 0 {
		p.hp = 0
	}
	w.damageLog = append(w.damageLog, DamageRecord{
		PlayerID: p.id,
		Amount:   amount,
		Cause:    cause,
		At:       w.now(),
	})
	if p.hp == 0 {
		w.logger.Info("player died",
			zap.String("player_id", p.id),
			zap.String("cause", string(cause)),
		)
	}
	return nil
}

// DamageLog returns a copy of every damage record, oldest first.
func (w *World) DamageLog() []DamageRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]DamageRecord(nil), w.damageLog...)
}

// SendEffect implements storm.EffectSink.
func (w *World) SendEffect(sp storm.Participant, effectID uint16, key int16) error {
	return w.withPlayer(sp, func(p *player) {
		p.effects[effectID] = key
	})
}

// ClearEffect implements storm.EffectSink.
func (w *World) ClearEffect(sp storm.Participant, effectID uint16) error {
	return w.withPlayer(sp, func(p *player) {
		delete(p.effects, effectID)
	})
}

func (w *World) withPlayer(sp storm.Participant, f func(*player)) error {
	if sp == nil {
		return ErrUnknownPlayer
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[sp.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, sp.ID())
	}
	f(p)
	return nil
}

// SetEnvironmentMode implements storm.Environment.
func (w *World) SetEnvironmentMode(on bool, descriptor string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if on {
		w.weather = descriptor
	} else {
		w.weather = ""
	}
	w.logger.Info("weather changed", zap.Bool("storm", on), zap.String("descriptor", descriptor))
	return nil
}

// Weather returns the active weather descriptor, empty when clear.
func (w *World) Weather() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.weather
}

// AddOxygenVolume registers a breathable sphere.
func (w *World) AddOxygenVolume(v OxygenVolume) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.volumes = append(w.volumes, v)
}

// BreathableAt implements storm.SafeVolumeChecker. Overlapping volumes
// report the deepest one.
func (w *World) BreathableAt(pos storm.Vec3) (bool, float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	inside := false
	best := 0.0
	for _, v := range w.volumes {
		if a, ok := v.alpha(pos); ok {
			inside = true
			best = math.Max(best, a)
		}
	}
	return inside, best, nil
}

// Place adds a structure and returns its id.
func (w *World) Place(itemID uint16, pos storm.Vec3, interactable any) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := &Structure{
		ID:           uuid.New().String(),
		ItemID:       itemID,
		Position:     pos,
		Interactable: interactable,
	}
	w.structures = append(w.structures, s)
	return s.ID
}

// Structures returns a copy of every placed structure.
func (w *World) Structures() []Structure {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Structure, 0, len(w.structures))
	for _, s := range w.structures {
		out = append(out, *s)
	}
	return out
}

// Demolish removes a structure.
func (w *World) Demolish(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.structures {
		if s.ID == id {
			w.structures = append(w.structures[:i], w.structures[i+1:]...)
			return true
		}
	}
	return false
}

// SetPowered switches a radiator or heater on or off. Interactables are
// replaced rather than mutated so snapshots already handed out stay stable.
func (w *World) SetPowered(id string, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.structures {
		if s.ID != id {
			continue
		}
		cp := *s
		switch obj := s.Interactable.(type) {
		case *SafezoneRadiator:
			cp.Interactable = &SafezoneRadiator{EffectRadius: obj.EffectRadius, powered: on}
		case *Heater:
			cp.Interactable = &Heater{Radius: obj.Radius, On: on}
		default:
			return fmt.Errorf("structure %s has no power switch", id)
		}
		w.structures[i] = &cp
		return nil
	}
	return fmt.Errorf("unknown structure %s", id)
}

// PlacedObjects implements storm.WorldObjectSource.
func (w *World) PlacedObjects() ([]storm.PlacedObject, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]storm.PlacedObject, 0, len(w.structures))
	for _, s := range w.structures {
		out = append(out, storm.PlacedObject{
			ItemID:       s.ItemID,
			Position:     s.Position,
			Interactable: s.Interactable,
		})
	}
	return out, nil
}

// Broadcast sends a chat message to everyone.
func (w *World) Broadcast(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broadcasts = append(w.broadcasts, msg)
	w.logger.Info("broadcast", zap.String("message", msg))
}

// Broadcasts returns every broadcast message, oldest first.
func (w *World) Broadcasts() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.broadcasts...)
}
