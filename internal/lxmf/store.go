package lxmf

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/torlando-tech/reticulum-core/internal/fsabs"
)

// DefaultMaxConversations and DefaultMaxMessagesPerConversation bound
// the fixed-capacity pools the original message store keeps to avoid
// unbounded heap growth on constrained hardware (spec §4.8 "Pools").
const (
	DefaultMaxConversations            = 64
	DefaultMaxMessagesPerConversation = 256
)

const indexPath = "/conv.json"

// Sentinel errors for Store operations.
var (
	// ErrConversationPoolFull indicates every conversation slot is
	// occupied by a different peer.
	ErrConversationPoolFull = errors.New("lxmf: conversation pool is full")

	// ErrMessagePoolFull indicates a conversation's message slice has
	// reached its configured capacity.
	ErrMessagePoolFull = errors.New("lxmf: message pool full for conversation")

	// ErrMessageNotFound indicates no message file exists for a hash.
	ErrMessageNotFound = errors.New("lxmf: message not found")

	// ErrConversationNotFound indicates no conversation is tracked for
	// a peer hash.
	ErrConversationNotFound = errors.New("lxmf: conversation not found")
)

// ConversationInfo is the metadata tracked for one peer's conversation.
type ConversationInfo struct {
	PeerHash        [HashSize]byte
	MessageHashes   [][HashSize]byte
	LastActivity    float64
	UnreadCount     int
	LastMessageHash [HashSize]byte
}

type conversationSlot struct {
	inUse bool
	info  ConversationInfo
}

// Store persists LXMF messages and the conversation index that groups
// them by peer (spec §4.8).
type Store struct {
	mu  sync.Mutex
	fs  *fsabs.FS
	log *slog.Logger

	conversations              []conversationSlot
	maxConversations           int
	maxMessagesPerConversation int
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxConversations overrides DefaultMaxConversations.
func WithMaxConversations(n int) Option {
	return func(s *Store) { s.maxConversations = n }
}

// WithMaxMessagesPerConversation overrides DefaultMaxMessagesPerConversation.
func WithMaxMessagesPerConversation(n int) Option {
	return func(s *Store) { s.maxMessagesPerConversation = n }
}

// NewStore creates a Store rooted at fs, loading any existing index.
// fs is expected to already be scoped to the message store's base
// directory (internal/fsabs.New).
func NewStore(fs *fsabs.FS, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		fs:                         fs,
		log:                        logger.With(slog.String("component", "lxmf")),
		maxConversations:           DefaultMaxConversations,
		maxMessagesPerConversation: DefaultMaxMessagesPerConversation,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.conversations = make([]conversationSlot, s.maxConversations)

	s.fs.CreateDirectory("/m")
	s.fs.CreateDirectory("/c")

	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("lxmf: load index: %w", err)
	}
	s.log.Info("message store initialized", slog.Int("conversations", s.countConversations()))
	return s, nil
}

// -------------------------------------------------------------------------
// Index (de)serialization
// -------------------------------------------------------------------------

type indexFile struct {
	Conversations []indexConversation `json:"conversations"`
}

type indexConversation struct {
	PeerHash        string   `json:"peer_hash"`
	Messages        []string `json:"messages"`
	LastActivity    float64  `json:"last_activity"`
	UnreadCount     int      `json:"unread_count"`
	LastMessageHash string   `json:"last_message_hash,omitempty"`
}

func (s *Store) loadIndex() error {
	if !s.fs.FileExists(indexPath) {
		s.log.Debug("no existing conversation index found")
		return nil
	}

	data, err := s.fs.ReadFile(indexPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", indexPath, err)
	}
	if len(data) == 0 {
		s.log.Warn("conversation index empty", slog.String("path", indexPath))
		return nil
	}

	var doc indexFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", indexPath, err)
	}

	slot := 0
	for _, conv := range doc.Conversations {
		if slot >= s.maxConversations {
			s.log.Warn("too many conversations in index, some skipped")
			break
		}
		peerHash, err := decodeHash(conv.PeerHash)
		if err != nil {
			s.log.Warn("skipping conversation with invalid peer hash", slog.String("peer_hash", conv.PeerHash))
			continue
		}
		info := ConversationInfo{
			PeerHash:     peerHash,
			LastActivity: conv.LastActivity,
			UnreadCount:  conv.UnreadCount,
		}
		for _, hexHash := range conv.Messages {
			if len(info.MessageHashes) >= s.maxMessagesPerConversation {
				s.log.Warn("too many messages in conversation, some skipped")
				break
			}
			h, err := decodeHash(hexHash)
			if err != nil {
				continue
			}
			info.MessageHashes = append(info.MessageHashes, h)
		}
		if conv.LastMessageHash != "" {
			if h, err := decodeHash(conv.LastMessageHash); err == nil {
				info.LastMessageHash = h
			}
		}
		s.conversations[slot] = conversationSlot{inUse: true, info: info}
		slot++
	}
	return nil
}

func (s *Store) saveIndex() error {
	doc := indexFile{}
	for _, slot := range s.conversations {
		if !slot.inUse {
			continue
		}
		conv := indexConversation{
			PeerHash:     hex.EncodeToString(slot.info.PeerHash[:]),
			LastActivity: slot.info.LastActivity,
			UnreadCount:  slot.info.UnreadCount,
		}
		if slot.info.LastMessageHash != ([HashSize]byte{}) {
			conv.LastMessageHash = hex.EncodeToString(slot.info.LastMessageHash[:])
		}
		for _, h := range slot.info.MessageHashes {
			conv.Messages = append(conv.Messages, hex.EncodeToString(h[:]))
		}
		doc.Conversations = append(doc.Conversations, conv)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if _, err := s.fs.WriteFile(indexPath, data); err != nil {
		return fmt.Errorf("write %s: %w", indexPath, err)
	}
	return nil
}

func decodeHash(s string) ([HashSize]byte, error) {
	var h [HashSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("lxmf: hash %q has wrong length", s)
	}
	copy(h[:], raw)
	return h, nil
}

// -------------------------------------------------------------------------
// Message file path
// -------------------------------------------------------------------------

// messagePath returns the short, SPIFFS-friendly path for a message
// hash: the first 12 hex characters of the hash (spec §4.8).
func messagePath(hash [HashSize]byte) string {
	return "/m/" + hex.EncodeToString(hash[:])[:12] + ".j"
}

// -------------------------------------------------------------------------
// Message file (de)serialization
// -------------------------------------------------------------------------

type messageFile struct {
	Hash            string  `json:"hash"`
	DestinationHash string  `json:"destination_hash"`
	SourceHash      string  `json:"source_hash"`
	Incoming        bool    `json:"incoming"`
	Timestamp       float64 `json:"timestamp"`
	State           int     `json:"state"`
	Content         string  `json:"content"`
	Packed          string  `json:"packed"`
}

func toMessageFile(m *Message) messageFile {
	return messageFile{
		Hash:            hex.EncodeToString(m.Hash[:]),
		DestinationHash: hex.EncodeToString(m.DestinationHash[:]),
		SourceHash:      hex.EncodeToString(m.SourceHash[:]),
		Incoming:        m.Incoming,
		Timestamp:       m.Timestamp,
		State:           int(m.State),
		Content:         m.Content,
		Packed:          hex.EncodeToString(m.Packed),
	}
}

// -------------------------------------------------------------------------
// Operations
// -------------------------------------------------------------------------

// SaveMessage writes the message file and updates the conversation
// index for its peer (spec §4.8 save_message).
func (s *Store) SaveMessage(m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mf := toMessageFile(m)
	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := s.fs.WriteFile(messagePath(m.Hash), data); err != nil {
		return fmt.Errorf("write message file: %w", err)
	}

	peerHash := m.DestinationHash
	if m.Incoming {
		peerHash = m.SourceHash
	}

	slot, err := s.getOrCreateConversation(peerHash)
	if err != nil {
		s.log.Warn("conversation pool full, message saved without index entry", slog.String("peer_hash", hex.EncodeToString(peerHash[:])))
		return s.saveIndex()
	}

	if !hasMessage(slot.info.MessageHashes, m.Hash) {
		if len(slot.info.MessageHashes) >= s.maxMessagesPerConversation {
			s.log.Warn("message pool full for conversation", slog.String("peer_hash", hex.EncodeToString(peerHash[:])))
		} else {
			slot.info.MessageHashes = append(slot.info.MessageHashes, m.Hash)
			slot.info.LastActivity = m.Timestamp
			slot.info.LastMessageHash = m.Hash
			if m.Incoming {
				slot.info.UnreadCount++
			}
		}
	}

	return s.saveIndex()
}

func hasMessage(hashes [][HashSize]byte, target [HashSize]byte) bool {
	for _, h := range hashes {
		if h == target {
			return true
		}
	}
	return false
}

// LoadMessage reads and decodes a message file, reconstructing the
// message from its packed wire bytes. Signature validation is
// deliberately skipped: provenance was already verified on receipt
// (spec §4.8 load_message).
func (s *Store) LoadMessage(hash [HashSize]byte) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := messagePath(hash)
	if !s.fs.FileExists(path) {
		return nil, ErrMessageNotFound
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read message file: %w", err)
	}

	var mf messageFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse message file: %w", err)
	}

	packed, err := hex.DecodeString(mf.Packed)
	if err != nil {
		return nil, fmt.Errorf("decode packed message: %w", err)
	}
	m, err := UnpackMessage(packed)
	if err != nil {
		return nil, fmt.Errorf("unpack message: %w", err)
	}
	m.Incoming = mf.Incoming
	m.State = State(mf.State)
	return m, nil
}

// MessageMetadata is the fast-loading subset of a stored message used
// for chat-list display, avoiding a full unpack of the packed bytes.
type MessageMetadata struct {
	Hash      [HashSize]byte
	Content   string
	Timestamp float64
	Incoming  bool
	State     State
}

// LoadMessageMetadata reads only the display fields of a message file
// (spec §4.8 load_message_metadata).
func (s *Store) LoadMessageMetadata(hash [HashSize]byte) (MessageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta MessageMetadata
	path := messagePath(hash)
	if !s.fs.FileExists(path) {
		return meta, ErrMessageNotFound
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read message file: %w", err)
	}

	var mf messageFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return meta, fmt.Errorf("parse message file: %w", err)
	}

	meta = MessageMetadata{
		Hash:      hash,
		Content:   mf.Content,
		Timestamp: mf.Timestamp,
		Incoming:  mf.Incoming,
		State:     State(mf.State),
	}
	return meta, nil
}

// UpdateMessageState rewrites a message file's state field in place
// (spec §4.8 update_message_state).
func (s *Store) UpdateMessageState(hash [HashSize]byte, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := messagePath(hash)
	if !s.fs.FileExists(path) {
		return ErrMessageNotFound
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read message file: %w", err)
	}

	var mf messageFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("parse message file: %w", err)
	}
	mf.State = int(state)

	out, err := json.Marshal(mf)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := s.fs.WriteFile(path, out); err != nil {
		return fmt.Errorf("write message file: %w", err)
	}
	return nil
}

// DeleteMessage removes a message file and its index entry, updating
// the owning conversation's last-message pointer (spec §4.8
// delete_message).
func (s *Store) DeleteMessage(hash [HashSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := messagePath(hash)
	if s.fs.FileExists(path) {
		if !s.fs.RemoveFile(path) {
			return fmt.Errorf("lxmf: failed to delete message file %s", path)
		}
	}

	for i := range s.conversations {
		slot := &s.conversations[i]
		if !slot.inUse {
			continue
		}
		if removeHash(&slot.info.MessageHashes, hash) {
			if slot.info.LastMessageHash == hash {
				if n := len(slot.info.MessageHashes); n > 0 {
					slot.info.LastMessageHash = slot.info.MessageHashes[n-1]
				} else {
					slot.info.LastMessageHash = [HashSize]byte{}
				}
			}
			break
		}
	}

	return s.saveIndex()
}

func removeHash(hashes *[][HashSize]byte, target [HashSize]byte) bool {
	for i, h := range *hashes {
		if h == target {
			*hashes = append((*hashes)[:i], (*hashes)[i+1:]...)
			return true
		}
	}
	return false
}

// DeleteConversation removes every message in a conversation and
// clears its slot (spec §4.8 delete_conversation).
func (s *Store) DeleteConversation(peerHash [HashSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findConversation(peerHash)
	if idx < 0 {
		return ErrConversationNotFound
	}

	for _, h := range s.conversations[idx].info.MessageHashes {
		path := messagePath(h)
		if s.fs.FileExists(path) {
			s.fs.RemoveFile(path)
		}
	}
	s.conversations[idx] = conversationSlot{}

	return s.saveIndex()
}

// MarkConversationRead clears a conversation's unread counter (spec
// §4.8 mark_conversation_read).
func (s *Store) MarkConversationRead(peerHash [HashSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findConversation(peerHash)
	if idx < 0 {
		return ErrConversationNotFound
	}
	s.conversations[idx].info.UnreadCount = 0
	return s.saveIndex()
}

// GetConversations returns every tracked peer hash, most recently
// active first.
func (s *Store) GetConversations() [][HashSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	type entry struct {
		peer     [HashSize]byte
		activity float64
	}
	var entries []entry
	for _, slot := range s.conversations {
		if slot.inUse {
			entries = append(entries, entry{slot.info.PeerHash, slot.info.LastActivity})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].activity > entries[j].activity })

	out := make([][HashSize]byte, len(entries))
	for i, e := range entries {
		out[i] = e.peer
	}
	return out
}

// GetConversationInfo returns the metadata tracked for a peer.
func (s *Store) GetConversationInfo(peerHash [HashSize]byte) (ConversationInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findConversation(peerHash)
	if idx < 0 {
		return ConversationInfo{}, ErrConversationNotFound
	}
	return s.conversations[idx].info, nil
}

// GetMessagesForConversation returns a peer's message hashes in the
// order they were saved (oldest first).
func (s *Store) GetMessagesForConversation(peerHash [HashSize]byte) ([][HashSize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findConversation(peerHash)
	if idx < 0 {
		return nil, ErrConversationNotFound
	}
	out := make([][HashSize]byte, len(s.conversations[idx].info.MessageHashes))
	copy(out, s.conversations[idx].info.MessageHashes)
	return out, nil
}

// MessageCount returns the total number of messages tracked across
// every conversation.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, slot := range s.conversations {
		if slot.inUse {
			count += len(slot.info.MessageHashes)
		}
	}
	return count
}

// ConversationCount returns the number of active conversation slots.
func (s *Store) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countConversations()
}

// UnreadCount returns the sum of unread counters across every
// conversation.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, slot := range s.conversations {
		if slot.inUse {
			count += slot.info.UnreadCount
		}
	}
	return count
}

// ClearAll deletes every message and conversation (spec §4.8
// clear_all).
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.conversations {
		slot := &s.conversations[i]
		if !slot.inUse {
			continue
		}
		for _, h := range slot.info.MessageHashes {
			path := messagePath(h)
			if s.fs.FileExists(path) {
				s.fs.RemoveFile(path)
			}
		}
		*slot = conversationSlot{}
	}
	return s.saveIndex()
}

func (s *Store) countConversations() int {
	count := 0
	for _, slot := range s.conversations {
		if slot.inUse {
			count++
		}
	}
	return count
}

func (s *Store) findConversation(peerHash [HashSize]byte) int {
	for i, slot := range s.conversations {
		if slot.inUse && slot.info.PeerHash == peerHash {
			return i
		}
	}
	return -1
}

func (s *Store) getOrCreateConversation(peerHash [HashSize]byte) (*conversationSlot, error) {
	if idx := s.findConversation(peerHash); idx >= 0 {
		return &s.conversations[idx], nil
	}
	for i := range s.conversations {
		if !s.conversations[i].inUse {
			s.conversations[i] = conversationSlot{inUse: true, info: ConversationInfo{PeerHash: peerHash}}
			return &s.conversations[i], nil
		}
	}
	return nil, ErrConversationPoolFull
}
