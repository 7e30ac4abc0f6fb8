package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// FileStore implements StorageAPI as a tree of JSON files under
// basePath, one subdirectory per world: in-memory caches guarded by a
// single RWMutex, atomic write-to-temp-then-rename persistence, and an
// fsnotify watcher that keeps the world-level cache in sync with
// out-of-process edits to world.json. Per-agent/per-chat/per-memory
// files are kept consistent by the same write path and are not
// independently watched.
type FileStore struct {
	basePath string

	mu       sync.RWMutex
	worlds   map[string]types.World
	agents   map[string]map[string]types.Agent          // worldID -> agentID -> agent
	chats    map[string]map[string]types.Chat            // worldID -> chatID -> chat
	memory   map[string]map[string][]types.AgentMessage  // worldID -> agentID|chatID -> messages
	archived map[string]map[string][]types.AgentMessage  // worldID -> agentID -> archived messages
	editLogs map[string]*EditLog

	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
}

// NewFileStore creates (or reopens) a JSON-file-backed store rooted at
// basePath, loading every existing world's data into memory and starting
// a watcher on basePath for externally created or removed world
// directories.
func NewFileStore(ctx context.Context, basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create storage directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}

	storeCtx, cancel := context.WithCancel(ctx)
	s := &FileStore{
		basePath: basePath,
		worlds:   make(map[string]types.World),
		agents:   make(map[string]map[string]types.Agent),
		chats:    make(map[string]map[string]types.Chat),
		memory:   make(map[string]map[string][]types.AgentMessage),
		archived: make(map[string]map[string][]types.AgentMessage),
		editLogs: make(map[string]*EditLog),
		watcher:  watcher,
		ctx:      storeCtx,
		cancel:   cancel,
	}

	if err := s.loadAll(); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to load existing worlds")
	}
	if err := s.watcher.Add(basePath); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to watch storage directory")
	}
	// world.json files live one level down, so each world directory needs
	// its own watch; new directories are picked up in watchChanges.
	if entries, err := os.ReadDir(basePath); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = s.watcher.Add(filepath.Join(basePath, e.Name()))
			}
		}
	}

	s.shutdownWg.Add(1)
	go s.watchChanges()

	return s, nil
}

func memKey(agentID, chatID string) string { return agentID + "|" + chatID }

func (s *FileStore) worldDir(worldID string) string { return filepath.Join(s.basePath, worldID) }

func (s *FileStore) loadAll() error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return errors.Wrap(err, "failed to read storage directory")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := s.loadWorldLocked(e.Name()); err != nil {
			logger.G(s.ctx).WithField("world_id", e.Name()).WithError(err).Warn("failed to load world into cache")
		}
	}
	return nil
}

func (s *FileStore) loadWorldLocked(worldID string) error {
	dir := s.worldDir(worldID)
	data, err := os.ReadFile(filepath.Join(dir, "world.json"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read world.json")
	}
	var w types.World
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "failed to unmarshal world.json")
	}
	s.worlds[w.ID] = w

	s.agents[w.ID] = make(map[string]types.Agent)
	if agentFiles, err := os.ReadDir(filepath.Join(dir, "agents")); err == nil {
		for _, f := range agentFiles {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, "agents", f.Name()))
			if err != nil {
				continue
			}
			var a types.Agent
			if json.Unmarshal(b, &a) == nil {
				s.agents[w.ID][a.ID] = a
			}
		}
	}

	s.chats[w.ID] = make(map[string]types.Chat)
	if chatFiles, err := os.ReadDir(filepath.Join(dir, "chats")); err == nil {
		for _, f := range chatFiles {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, "chats", f.Name()))
			if err != nil {
				continue
			}
			var c types.Chat
			if json.Unmarshal(b, &c) == nil {
				s.chats[w.ID][c.ID] = c
			}
		}
	}

	s.memory[w.ID] = make(map[string][]types.AgentMessage)
	if memFiles, err := os.ReadDir(filepath.Join(dir, "memory")); err == nil {
		for _, f := range memFiles {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, "memory", f.Name()))
			if err != nil {
				continue
			}
			var msgs []types.AgentMessage
			if json.Unmarshal(b, &msgs) == nil {
				key := strings.TrimSuffix(f.Name(), ".json")
				s.memory[w.ID][key] = msgs
			}
		}
	}

	s.editLogs[w.ID] = NewEditLog(dir)
	return nil
}

func (s *FileStore) watchChanges() {
	defer s.shutdownWg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Dir(event.Name) == s.basePath {
				// A world directory appeared at the top level: watch it so
				// its world.json events are delivered.
				if event.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
						_ = s.watcher.Add(event.Name)
						s.mu.Lock()
						if err := s.loadWorldLocked(filepath.Base(event.Name)); err != nil {
							logger.G(s.ctx).WithError(err).Warn("failed to load new world directory")
						}
						s.mu.Unlock()
					}
				}
				continue
			}
			name := filepath.Base(filepath.Dir(event.Name))
			if filepath.Base(event.Name) != "world.json" {
				continue
			}
			s.mu.Lock()
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if err := s.loadWorldLocked(name); err != nil {
					logger.G(s.ctx).WithError(err).Warn("failed to reload world after fs event")
				}
			case event.Op&fsnotify.Remove != 0:
				delete(s.worlds, name)
				delete(s.agents, name)
				delete(s.chats, name)
				delete(s.memory, name)
				delete(s.archived, name)
			}
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.G(s.ctx).WithError(err).Error("file watcher error")
		}
	}
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal json")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to rename temp file")
	}
	return nil
}

// --- World CRUD ---

func (s *FileStore) CreateWorld(ctx context.Context, w types.World) error {
	if err := writeJSONAtomic(filepath.Join(s.worldDir(w.ID), "world.json"), w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[w.ID] = w
	if s.agents[w.ID] == nil {
		s.agents[w.ID] = make(map[string]types.Agent)
	}
	if s.chats[w.ID] == nil {
		s.chats[w.ID] = make(map[string]types.Chat)
	}
	if s.memory[w.ID] == nil {
		s.memory[w.ID] = make(map[string][]types.AgentMessage)
	}
	s.editLogs[w.ID] = NewEditLog(s.worldDir(w.ID))
	return nil
}

func (s *FileStore) GetWorld(ctx context.Context, id string) (types.World, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.worlds[id]
	return w, ok, nil
}

func (s *FileStore) UpdateWorld(ctx context.Context, w types.World) error {
	s.mu.Lock()
	if _, ok := s.worlds[w.ID]; !ok {
		s.mu.Unlock()
		return types.NewError(types.ErrWorldNotFound, "world not found: "+w.ID)
	}
	s.mu.Unlock()

	if err := writeJSONAtomic(filepath.Join(s.worldDir(w.ID), "world.json"), w); err != nil {
		return err
	}
	s.mu.Lock()
	s.worlds[w.ID] = w
	s.mu.Unlock()
	return nil
}

func (s *FileStore) DeleteWorld(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.worldDir(id)); err != nil {
		return errors.Wrap(err, "failed to delete world directory")
	}
	delete(s.worlds, id)
	delete(s.agents, id)
	delete(s.chats, id)
	delete(s.memory, id)
	delete(s.archived, id)
	delete(s.editLogs, id)
	return nil
}

func (s *FileStore) ListWorlds(ctx context.Context) ([]types.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.World, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	return out, nil
}

// --- Agent CRUD ---

func (s *FileStore) agentPath(worldID, agentID string) string {
	return filepath.Join(s.worldDir(worldID), "agents", agentID+".json")
}

func (s *FileStore) CreateAgent(ctx context.Context, worldID string, a types.Agent) error {
	if err := writeJSONAtomic(s.agentPath(worldID, a.ID), a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[worldID] == nil {
		s.agents[worldID] = make(map[string]types.Agent)
	}
	s.agents[worldID][a.ID] = a
	return nil
}

func (s *FileStore) GetAgent(ctx context.Context, worldID, agentID string) (types.Agent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[worldID][agentID]
	if !ok {
		return types.Agent{}, false, nil
	}
	a.Memory = s.memoryLocked(worldID, agentID, "")
	return a, true, nil
}

func (s *FileStore) UpdateAgent(ctx context.Context, worldID string, a types.Agent) error {
	s.mu.Lock()
	if _, ok := s.agents[worldID][a.ID]; !ok {
		s.mu.Unlock()
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+a.ID)
	}
	s.mu.Unlock()

	persisted := a
	persisted.Memory = nil
	if err := writeJSONAtomic(s.agentPath(worldID, a.ID), persisted); err != nil {
		return err
	}
	s.mu.Lock()
	s.agents[worldID][a.ID] = persisted
	s.mu.Unlock()
	return nil
}

func (s *FileStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	if err := os.Remove(s.agentPath(worldID, agentID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete agent file")
	}
	s.mu.Lock()
	delete(s.agents[worldID], agentID)
	s.mu.Unlock()
	return s.DeleteAgentMemory(ctx, worldID, agentID)
}

func (s *FileStore) ListAgents(ctx context.Context, worldID string) ([]types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Agent, 0, len(s.agents[worldID]))
	for _, a := range s.agents[worldID] {
		a.Memory = s.memoryLocked(worldID, a.ID, "")
		out = append(out, a)
	}
	return out, nil
}

// --- Chat CRUD ---

func (s *FileStore) chatPath(worldID, chatID string) string {
	return filepath.Join(s.worldDir(worldID), "chats", chatID+".json")
}

func (s *FileStore) CreateChat(ctx context.Context, worldID string, c types.Chat) error {
	if err := writeJSONAtomic(s.chatPath(worldID, c.ID), c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chats[worldID] == nil {
		s.chats[worldID] = make(map[string]types.Chat)
	}
	s.chats[worldID][c.ID] = c
	return nil
}

func (s *FileStore) GetChat(ctx context.Context, worldID, chatID string) (types.Chat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[worldID][chatID]
	return c, ok, nil
}

func (s *FileStore) ListChats(ctx context.Context, worldID string) ([]ChatSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChatSnapshot, 0, len(s.chats[worldID]))
	for _, c := range s.chats[worldID] {
		out = append(out, ChatSnapshot{Chat: c, LastActivity: c.UpdatedAt})
	}
	return out, nil
}

func (s *FileStore) DeleteChat(ctx context.Context, worldID, chatID string) error {
	if err := os.Remove(s.chatPath(worldID, chatID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete chat file")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats[worldID], chatID)
	return nil
}

func (s *FileStore) UpdateChatNameIfCurrent(ctx context.Context, worldID, chatID, expectedCurrentName, newName string) (bool, error) {
	s.mu.Lock()
	c, ok := s.chats[worldID][chatID]
	if !ok || c.Name != expectedCurrentName {
		s.mu.Unlock()
		return false, nil
	}
	c.Name = newName
	c.UpdatedAt = time.Now()
	s.mu.Unlock()

	if err := writeJSONAtomic(s.chatPath(worldID, chatID), c); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.chats[worldID][chatID] = c
	s.mu.Unlock()
	return true, nil
}

// --- Memory ---

func (s *FileStore) memoryPath(worldID, agentID, chatID string) string {
	return filepath.Join(s.worldDir(worldID), "memory", memKey(agentID, chatID)+".json")
}

// memoryLocked returns agentID's memory, optionally filtered to chatID, to
// callers already holding s.mu.
func (s *FileStore) memoryLocked(worldID, agentID, chatID string) []types.AgentMessage {
	var out []types.AgentMessage
	for key, msgs := range s.memory[worldID] {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 || parts[0] != agentID {
			continue
		}
		if chatID != "" && parts[1] != chatID {
			continue
		}
		out = append(out, msgs...)
	}
	return out
}

func (s *FileStore) GetMemory(ctx context.Context, worldID, agentID, chatID string) ([]types.AgentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(agentID, chatID)
	msgs := s.memory[worldID][key]
	missing := false
	for _, m := range msgs {
		if m.MessageID == "" {
			missing = true
			break
		}
	}
	if !missing {
		out := make([]types.AgentMessage, len(msgs))
		copy(out, msgs)
		return out, nil
	}

	migrated, _ := MigrateMessageIDs(msgs)
	if s.memory[worldID] == nil {
		s.memory[worldID] = make(map[string][]types.AgentMessage)
	}
	s.memory[worldID][key] = migrated
	if err := writeJSONAtomic(s.memoryPath(worldID, agentID, chatID), migrated); err != nil {
		return nil, err
	}
	out := make([]types.AgentMessage, len(migrated))
	copy(out, migrated)
	return out, nil
}

func (s *FileStore) AppendMemory(ctx context.Context, worldID, agentID, chatID string, msgs ...types.AgentMessage) error {
	s.mu.Lock()
	key := memKey(agentID, chatID)
	if s.memory[worldID] == nil {
		s.memory[worldID] = make(map[string][]types.AgentMessage)
	}
	updated := append(append([]types.AgentMessage{}, s.memory[worldID][key]...), msgs...)
	s.memory[worldID][key] = updated
	s.mu.Unlock()

	return writeJSONAtomic(s.memoryPath(worldID, agentID, chatID), updated)
}

func (s *FileStore) RemoveMessagesFrom(ctx context.Context, worldID, chatID string, cutoff time.Time) (bool, int, error) {
	s.mu.Lock()
	if _, ok := s.chats[worldID][chatID]; !ok {
		s.mu.Unlock()
		return false, 0, nil
	}

	removed := 0
	type change struct {
		agentID string
		msgs    []types.AgentMessage
	}
	var changes []change
	for key, msgs := range s.memory[worldID] {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 || parts[1] != chatID {
			continue
		}
		kept := msgs[:0:0]
		for _, m := range msgs {
			if !m.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		s.memory[worldID][key] = kept
		changes = append(changes, change{agentID: parts[0], msgs: kept})
	}
	s.mu.Unlock()

	for _, c := range changes {
		if err := writeJSONAtomic(s.memoryPath(worldID, c.agentID, chatID), c.msgs); err != nil {
			return false, removed, err
		}
	}
	return true, removed, nil
}

func (s *FileStore) DeleteMemoryByChatID(ctx context.Context, worldID, chatID string) error {
	s.mu.Lock()
	var agentIDs []string
	for key := range s.memory[worldID] {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 && parts[1] == chatID {
			agentIDs = append(agentIDs, parts[0])
			delete(s.memory[worldID], key)
		}
	}
	s.mu.Unlock()

	for _, agentID := range agentIDs {
		if err := os.Remove(s.memoryPath(worldID, agentID, chatID)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to delete memory file")
		}
	}
	return nil
}

func (s *FileStore) DeleteAgentMemory(ctx context.Context, worldID, agentID string) error {
	s.mu.Lock()
	var chatIDs []string
	for key := range s.memory[worldID] {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 && parts[0] == agentID {
			chatIDs = append(chatIDs, parts[1])
			delete(s.memory[worldID], key)
		}
	}
	s.mu.Unlock()

	for _, chatID := range chatIDs {
		if err := os.Remove(s.memoryPath(worldID, agentID, chatID)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to delete agent memory file")
		}
	}
	return nil
}

func (s *FileStore) ArchiveMemory(ctx context.Context, worldID, agentID string, msgs []types.AgentMessage) error {
	s.mu.Lock()
	if s.archived[worldID] == nil {
		s.archived[worldID] = make(map[string][]types.AgentMessage)
	}
	updated := append(append([]types.AgentMessage{}, s.archived[worldID][agentID]...), msgs...)
	s.archived[worldID][agentID] = updated
	s.mu.Unlock()

	path := filepath.Join(s.worldDir(worldID), "archived", agentID+".json")
	return writeJSONAtomic(path, updated)
}

// --- Integrity ---

func (s *FileStore) ValidateIntegrity(ctx context.Context, worldID string) (IntegrityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := IntegrityReport{WorldID: worldID}
	seen := make(map[string]int)
	for key, msgs := range s.memory[worldID] {
		parts := strings.SplitN(key, "|", 2)
		chatID := ""
		if len(parts) == 2 {
			chatID = parts[1]
		}
		_, chatExists := s.chats[worldID][chatID]
		for _, m := range msgs {
			if !chatExists {
				report.OrphanedMessages = append(report.OrphanedMessages, m.MessageID)
			}
			if m.MessageID == "" {
				report.MissingMessageIDs++
				continue
			}
			seen[m.MessageID]++
		}
	}
	for id, count := range seen {
		if count > 1 {
			report.DuplicateMessageIDs = append(report.DuplicateMessageIDs, id)
		}
	}
	return report, nil
}

func (s *FileStore) RepairData(ctx context.Context, worldID string, report IntegrityReport) error {
	orphaned := make(map[string]bool, len(report.OrphanedMessages))
	for _, id := range report.OrphanedMessages {
		orphaned[id] = true
	}

	s.mu.Lock()
	type change struct {
		agentID, chatID string
		msgs            []types.AgentMessage
	}
	var changes []change
	for key, msgs := range s.memory[worldID] {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 {
			continue
		}
		kept := msgs[:0:0]
		dirty := false
		for _, m := range msgs {
			if orphaned[m.MessageID] {
				dirty = true
				continue
			}
			kept = append(kept, m)
		}
		if dirty {
			s.memory[worldID][key] = kept
			changes = append(changes, change{agentID: parts[0], chatID: parts[1], msgs: kept})
		}
	}
	s.mu.Unlock()

	for _, c := range changes {
		if err := writeJSONAtomic(s.memoryPath(worldID, c.agentID, c.chatID), c.msgs); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			logger.G(context.Background()).WithError(err).Error("failed to close file watcher")
		}
	}
	s.shutdownWg.Wait()
	return nil
}

// --- Optional capabilities: EventStorage, EditLogWriter ---

func (s *FileStore) AppendEvent(ctx context.Context, worldID string, ev types.Event) error {
	path := filepath.Join(s.worldDir(worldID), "events.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create world directory for events")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open events log")
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "failed to append event")
	}
	return nil
}

func (s *FileStore) AppendEditLog(worldID string, entry EditLogEntry) error {
	s.mu.RLock()
	log, ok := s.editLogs[worldID]
	s.mu.RUnlock()
	if !ok {
		log = NewEditLog(s.worldDir(worldID))
		s.mu.Lock()
		s.editLogs[worldID] = log
		s.mu.Unlock()
	}
	return log.Append(entry)
}
