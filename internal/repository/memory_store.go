package repository

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/geoboard/internal/model"
)

const pairLockStripes = 256

type voteKey struct {
	voterID   string
	messageID string
}

type memoryVote struct {
	vote model.Vote
	seq  uint64
}

// MemoryStore はプロセス内のマップで全リポジトリを実装するストア。
//
// 同じ (投票者, メッセージ) の組に対する Transition はストライプ化した組ロックで直列化する。
// 投票・集計値の書き込みは mu の書き込みロック下でまとめて行うため、
// 読み取り側が投票だけ反映されて集計値が未反映の状態を観測することはない。
type MemoryStore struct {
	mu sync.RWMutex

	users        map[string]*model.User
	userByName   map[string]string
	userByToken  map[string]string
	messages     map[string]*model.Message
	messageOrder []string
	votes        map[voteKey]*memoryVote
	seq          uint64

	pairLocks [pairLockStripes]sync.Mutex

	now func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		userByName:  make(map[string]string),
		userByToken: make(map[string]string),
		messages:    make(map[string]*model.Message),
		votes:       make(map[voteKey]*memoryVote),
		now:         time.Now,
	}
}

// Users はユーザーリポジトリを返す。
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Messages はメッセージリポジトリを返す。
func (s *MemoryStore) Messages() MessageRepository { return memoryMessages{s} }

// Votes は投票リポジトリを返す。
func (s *MemoryStore) Votes() VoteRepository { return memoryVotes{s} }

func (s *MemoryStore) pairLock(voterID, messageID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(voterID))
	h.Write([]byte{0})
	h.Write([]byte(messageID))
	return &s.pairLocks[h.Sum32()%pairLockStripes]
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// --- users ---

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(ctx context.Context, user *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.userByName[user.DisplayName]; taken {
		return model.NewDuplicateNameError()
	}
	u := *user
	s.users[u.ID] = &u
	s.userByName[u.DisplayName] = u.ID
	// 同じトークンを持つユーザーが複数いる場合は最初に作成されたユーザーを返す
	if _, ok := s.userByToken[u.AuthToken]; !ok {
		s.userByToken[u.AuthToken] = u.ID
	}
	return nil
}

func (r memoryUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyUser(id), nil
}

func (r memoryUsers) FindByDisplayName(ctx context.Context, displayName string) (*model.User, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyUser(s.userByName[displayName]), nil
}

func (r memoryUsers) FindByAuthToken(ctx context.Context, authToken string) (*model.User, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyUser(s.userByToken[authToken]), nil
}

func (s *MemoryStore) copyUser(id string) *model.User {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// --- messages ---

type memoryMessages struct{ s *MemoryStore }

func (r memoryMessages) Create(ctx context.Context, message *model.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[message.AuthorID]; !ok {
		return model.NewUserNotFoundError()
	}
	m := *message
	s.messages[m.ID] = &m
	s.messageOrder = append(s.messageOrder, m.ID)
	return nil
}

func (r memoryMessages) FindByID(ctx context.Context, id string) (*model.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r memoryMessages) List(ctx context.Context) ([]*model.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Message, 0, len(s.messageOrder))
	for _, id := range s.messageOrder {
		cp := *s.messages[id]
		result = append(result, &cp)
	}
	return result, nil
}

// Delete はメッセージと投票を mu の書き込みロック下で一括削除する。
// 削除後に Transition が書き込みフェーズに入ると、メッセージの不在を検出して失敗する。
func (r memoryMessages) Delete(ctx context.Context, id string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	// 投稿者の集計値から、このメッセージが受けた分を差し引く
	if author, ok := s.users[msg.AuthorID]; ok && (msg.UpVotes != 0 || msg.DownVotes != 0) {
		author.UpVotes -= msg.UpVotes
		author.DownVotes -= msg.DownVotes
		author.UpdatedAt = s.now()
	}
	delete(s.messages, id)
	for i, mid := range s.messageOrder {
		if mid == id {
			s.messageOrder = append(s.messageOrder[:i], s.messageOrder[i+1:]...)
			break
		}
	}
	for k := range s.votes {
		if k.messageID == id {
			delete(s.votes, k)
		}
	}
	return true, nil
}

// --- votes ---

type memoryVotes struct{ s *MemoryStore }

func (r memoryVotes) FindByVoterAndMessage(ctx context.Context, voterID, messageID string) (*model.Vote, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	mv, ok := s.votes[voteKey{voterID, messageID}]
	if !ok {
		return nil, nil
	}
	v := mv.vote
	return &v, nil
}

func (r memoryVotes) ListByVoter(ctx context.Context, voterID string) ([]model.VoteWithRelations, error) {
	return r.s.listVotes(func(k voteKey) bool { return k.voterID == voterID }), nil
}

func (r memoryVotes) ListByMessage(ctx context.Context, messageID string) ([]model.VoteWithRelations, error) {
	return r.s.listVotes(func(k voteKey) bool { return k.messageID == messageID }), nil
}

func (s *MemoryStore) listVotes(match func(voteKey) bool) []model.VoteWithRelations {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memoryVote, 0)
	for k, mv := range s.votes {
		if match(k) {
			matched = append(matched, mv)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	result := make([]model.VoteWithRelations, 0, len(matched))
	for _, mv := range matched {
		vr := model.VoteWithRelations{Vote: mv.vote}
		if u, ok := s.users[mv.vote.VoterID]; ok {
			vr.UserDisplayName = u.DisplayName
		}
		result = append(result, vr)
	}
	return result
}

func (r memoryVotes) Transition(ctx context.Context, voterID, messageID string, decide DecideFunc) (*TransitionResult, error) {
	s := r.s

	pl := s.pairLock(voterID, messageID)
	pl.Lock()
	defer pl.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 読み取りフェーズ: 組ロックを保持しているため、この組の投票を変更できるのは
	// 自分自身とメッセージ削除のみ。
	s.mu.RLock()
	msg, ok := s.messages[messageID]
	if !ok {
		s.mu.RUnlock()
		return nil, model.NewMessageNotFoundError(messageID)
	}
	authorID := msg.AuthorID
	var current *model.Vote
	if mv, ok := s.votes[voteKey{voterID, messageID}]; ok {
		v := mv.vote
		current = &v
	}
	s.mu.RUnlock()

	t, err := decide(current)
	if err != nil {
		return nil, err
	}
	result := &TransitionResult{Transition: t, Vote: current, AuthorID: authorID}
	if t.Kind == model.TransitionNone {
		return result, nil
	}

	// 書き込みフェーズ
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok = s.messages[messageID]
	if !ok {
		return nil, model.NewMessageNotFoundError(messageID)
	}
	author, ok := s.users[authorID]
	if !ok {
		return nil, model.NewUserNotFoundError()
	}
	if msg.UpVotes+t.UpDelta < 0 || msg.DownVotes+t.DownDelta < 0 ||
		author.UpVotes+t.UpDelta < 0 || author.DownVotes+t.DownDelta < 0 {
		return nil, errNegativeCounter
	}

	now := s.now()
	key := voteKey{voterID, messageID}
	switch t.Kind {
	case model.TransitionCreate:
		mv := &memoryVote{
			vote: model.Vote{VoterID: voterID, MessageID: messageID, Value: t.Value, CreatedAt: now, UpdatedAt: now},
			seq:  s.nextSeq(),
		}
		s.votes[key] = mv
		v := mv.vote
		result.Vote = &v
	case model.TransitionChange:
		mv := s.votes[key]
		mv.vote.Value = t.Value
		mv.vote.UpdatedAt = now
		v := mv.vote
		result.Vote = &v
	case model.TransitionRemove:
		delete(s.votes, key)
		result.Vote = nil
	}

	msg.UpVotes += t.UpDelta
	msg.DownVotes += t.DownDelta
	msg.UpdatedAt = now
	author.UpVotes += t.UpDelta
	author.DownVotes += t.DownDelta
	author.UpdatedAt = now

	return result, nil
}

// compile-time interface check
var (
	_ Store             = (*MemoryStore)(nil)
	_ UserRepository    = memoryUsers{}
	_ MessageRepository = memoryMessages{}
	_ VoteRepository    = memoryVotes{}
)
