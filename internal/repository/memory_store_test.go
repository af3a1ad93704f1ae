package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hitoshi/geoboard/internal/model"
)

func seedUser(t *testing.T, s *MemoryStore, id, name string) *model.User {
	t.Helper()
	u := &model.User{ID: id, DisplayName: name, AuthToken: "token-" + id}
	if err := s.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("Create user %s: %v", name, err)
	}
	return u
}

func seedMessage(t *testing.T, s *MemoryStore, id, authorID string) *model.Message {
	t.Helper()
	m := &model.Message{ID: id, Text: "hello " + id, Latitude: 37.3323314, Longitude: -122.0342186, AuthorID: authorID}
	if err := s.Messages().Create(context.Background(), m); err != nil {
		t.Fatalf("Create message %s: %v", id, err)
	}
	return m
}

// castTo は既存の投票に関わらず value を設定する遷移を返す。
func castTo(value bool) DecideFunc {
	return func(current *model.Vote) (model.VoteTransition, error) {
		switch {
		case current == nil:
			if value {
				return model.VoteTransition{Kind: model.TransitionCreate, Value: true, UpDelta: 1}, nil
			}
			return model.VoteTransition{Kind: model.TransitionCreate, Value: false, DownDelta: 1}, nil
		case current.Value == value:
			return model.VoteTransition{Kind: model.TransitionNone, Value: value}, nil
		case value:
			return model.VoteTransition{Kind: model.TransitionChange, Value: true, UpDelta: 1, DownDelta: -1}, nil
		default:
			return model.VoteTransition{Kind: model.TransitionChange, Value: false, UpDelta: -1, DownDelta: 1}, nil
		}
	}
}

func removeVote(current *model.Vote) (model.VoteTransition, error) {
	if current == nil {
		return model.VoteTransition{}, model.NewVoteNotFoundError()
	}
	if current.Value {
		return model.VoteTransition{Kind: model.TransitionRemove, Value: true, UpDelta: -1}, nil
	}
	return model.VoteTransition{Kind: model.TransitionRemove, Value: false, DownDelta: -1}, nil
}

// assertCounters はメッセージと投稿者の集計値を検証する。
func assertCounters(t *testing.T, s *MemoryStore, messageID, authorID string, up, down int) {
	t.Helper()
	ctx := context.Background()

	m, err := s.Messages().FindByID(ctx, messageID)
	if err != nil || m == nil {
		t.Fatalf("FindByID(%s) = %v, %v", messageID, m, err)
	}
	if m.UpVotes != up || m.DownVotes != down {
		t.Errorf("message counters = (%d, %d), want (%d, %d)", m.UpVotes, m.DownVotes, up, down)
	}

	u, err := s.Users().FindByID(ctx, authorID)
	if err != nil || u == nil {
		t.Fatalf("FindByID(%s) = %v, %v", authorID, u, err)
	}
	if u.UpVotes != up || u.DownVotes != down {
		t.Errorf("author counters = (%d, %d), want (%d, %d)", u.UpVotes, u.DownVotes, up, down)
	}
}

func TestMemoryStore_UserCreate_DuplicateName(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "Fantine")

	err := s.Users().Create(context.Background(), &model.User{ID: "u2", DisplayName: "Fantine", AuthToken: "other"})
	if !model.HasCode(err, model.ErrCodeDuplicateName) {
		t.Fatalf("err = %v, want %s", err, model.ErrCodeDuplicateName)
	}

	// 大文字小文字は区別される
	if err := s.Users().Create(context.Background(), &model.User{ID: "u3", DisplayName: "fantine", AuthToken: "t"}); err != nil {
		t.Errorf("case-different name should be accepted: %v", err)
	}
}

func TestMemoryStore_UserLookups(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "Fantine")
	ctx := context.Background()

	u, _ := s.Users().FindByDisplayName(ctx, "Fantine")
	if u == nil || u.ID != "u1" {
		t.Errorf("FindByDisplayName = %+v, want u1", u)
	}
	u, _ = s.Users().FindByAuthToken(ctx, "token-u1")
	if u == nil || u.ID != "u1" {
		t.Errorf("FindByAuthToken = %+v, want u1", u)
	}
	u, _ = s.Users().FindByDisplayName(ctx, "Cosette")
	if u != nil {
		t.Errorf("FindByDisplayName(missing) = %+v, want nil", u)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "Fantine")
	seedMessage(t, s, "m1", "u1")
	ctx := context.Background()

	m, _ := s.Messages().FindByID(ctx, "m1")
	m.UpVotes = 99
	u, _ := s.Users().FindByID(ctx, "u1")
	u.UpVotes = 99

	assertCounters(t, s, "m1", "u1", 0, 0)
}

func TestMemoryStore_MessageList_CreationOrder(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "Fantine")
	for _, id := range []string{"m3", "m1", "m2"} {
		seedMessage(t, s, id, "u1")
	}

	got, err := s.Messages().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"m3", "m1", "m2"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List()[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMemoryStore_Transition_CreateChangeRemove(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedUser(t, s, "voter", "Fantine")
	seedMessage(t, s, "m1", "author")
	votes := s.Votes()
	ctx := context.Background()

	res, err := votes.Transition(ctx, "voter", "m1", castTo(true))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Transition.Kind != model.TransitionCreate || res.Vote == nil || !res.Vote.Value {
		t.Errorf("create result = %+v", res)
	}
	if res.AuthorID != "author" {
		t.Errorf("AuthorID = %q, want author", res.AuthorID)
	}
	assertCounters(t, s, "m1", "author", 1, 0)

	if _, err := votes.Transition(ctx, "voter", "m1", castTo(false)); err != nil {
		t.Fatalf("change: %v", err)
	}
	assertCounters(t, s, "m1", "author", 0, 1)

	// 投票者自身の集計値は変わらない
	voter, _ := s.Users().FindByID(ctx, "voter")
	if voter.UpVotes != 0 || voter.DownVotes != 0 {
		t.Errorf("voter counters = (%d, %d), want (0, 0)", voter.UpVotes, voter.DownVotes)
	}

	res, err = votes.Transition(ctx, "voter", "m1", removeVote)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Vote != nil {
		t.Errorf("Vote after remove = %+v, want nil", res.Vote)
	}
	assertCounters(t, s, "m1", "author", 0, 0)

	v, _ := votes.FindByVoterAndMessage(ctx, "voter", "m1")
	if v != nil {
		t.Errorf("vote still present after remove: %+v", v)
	}
}

func TestMemoryStore_Transition_IdenticalRecastIsNoop(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedUser(t, s, "voter", "Fantine")
	seedMessage(t, s, "m1", "author")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Votes().Transition(ctx, "voter", "m1", castTo(true)); err != nil {
			t.Fatalf("cast %d: %v", i, err)
		}
	}
	assertCounters(t, s, "m1", "author", 1, 0)

	list, _ := s.Votes().ListByMessage(ctx, "m1")
	if len(list) != 1 {
		t.Errorf("len(ListByMessage) = %d, want 1", len(list))
	}
}

func TestMemoryStore_Transition_DecideErrorLeavesStateUntouched(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedUser(t, s, "voter", "Fantine")
	seedMessage(t, s, "m1", "author")

	_, err := s.Votes().Transition(context.Background(), "voter", "m1", removeVote)
	if !model.HasCode(err, model.ErrCodeVoteNotFound) {
		t.Fatalf("err = %v, want %s", err, model.ErrCodeVoteNotFound)
	}
	assertCounters(t, s, "m1", "author", 0, 0)
}

func TestMemoryStore_Transition_MissingMessage(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "voter", "Fantine")

	called := false
	_, err := s.Votes().Transition(context.Background(), "voter", "nope", func(*model.Vote) (model.VoteTransition, error) {
		called = true
		return model.VoteTransition{}, nil
	})
	if !model.HasCode(err, model.ErrCodeMessageNotFound) {
		t.Fatalf("err = %v, want %s", err, model.ErrCodeMessageNotFound)
	}
	if called {
		t.Error("decide should not be called for a missing message")
	}
}

func TestMemoryStore_Transition_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedMessage(t, s, "m1", "author")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Votes().Transition(ctx, "author", "m1", castTo(true))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	assertCounters(t, s, "m1", "author", 0, 0)
}

func TestMemoryStore_MessageDelete_CascadesVotes(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedUser(t, s, "voter", "Fantine")
	seedMessage(t, s, "m1", "author")
	seedMessage(t, s, "m2", "author")
	ctx := context.Background()

	s.Votes().Transition(ctx, "voter", "m1", castTo(true))
	s.Votes().Transition(ctx, "voter", "m2", castTo(false))

	deleted, err := s.Messages().Delete(ctx, "m1")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}

	byVoter, _ := s.Votes().ListByVoter(ctx, "voter")
	if len(byVoter) != 1 || byVoter[0].MessageID != "m2" {
		t.Errorf("ListByVoter = %+v, want only m2", byVoter)
	}
	if byVoter[0].UserDisplayName != "Fantine" {
		t.Errorf("UserDisplayName = %q, want Fantine", byVoter[0].UserDisplayName)
	}

	// 削除後の投票はメッセージ未検出で失敗する
	_, err = s.Votes().Transition(ctx, "voter", "m1", castTo(true))
	if !model.HasCode(err, model.ErrCodeMessageNotFound) {
		t.Errorf("err = %v, want %s", err, model.ErrCodeMessageNotFound)
	}

	deleted, _ = s.Messages().Delete(ctx, "m1")
	if deleted {
		t.Error("second Delete reported deleted = true")
	}
	list, _ := s.Messages().List(ctx)
	if len(list) != 1 || list[0].ID != "m2" {
		t.Errorf("List after delete = %v", list)
	}
}

// TestMemoryStore_MessageDelete_RollsBackAuthorCounters は削除したメッセージが受けた投票が
// 投稿者の集計値から差し引かれ、残りのメッセージの分だけが残ることを検証する。
func TestMemoryStore_MessageDelete_RollsBackAuthorCounters(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedUser(t, s, "v1", "Fantine")
	seedUser(t, s, "v2", "Cosette")
	seedMessage(t, s, "m1", "author")
	seedMessage(t, s, "m2", "author")
	ctx := context.Background()

	s.Votes().Transition(ctx, "v1", "m1", castTo(true))
	s.Votes().Transition(ctx, "v2", "m1", castTo(false))
	s.Votes().Transition(ctx, "author", "m2", castTo(true))

	if _, err := s.Messages().Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assertCounters(t, s, "m2", "author", 1, 0)
}

// TestMemoryStore_ConcurrentVotersOnOneMessage は多数の投票者が同じメッセージへ
// 同時に投票しても更新が失われないことを検証する。
func TestMemoryStore_ConcurrentVotersOnOneMessage(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedMessage(t, s, "m1", "author")

	const voters = 100
	for i := 0; i < voters; i++ {
		seedUser(t, s, fmt.Sprintf("v%d", i), fmt.Sprintf("voter-%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Votes().Transition(context.Background(), fmt.Sprintf("v%d", i), "m1", castTo(i%2 == 0)); err != nil {
				t.Errorf("Transition v%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assertCounters(t, s, "m1", "author", voters/2, voters/2)
}

// TestMemoryStore_ConcurrentFlipsOnOnePair は同じ組への同時の投票変更で
// 集計値が台帳と一致し続けることを検証する。
func TestMemoryStore_ConcurrentFlipsOnOnePair(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedUser(t, s, "voter", "Fantine")
	seedMessage(t, s, "m1", "author")

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var decide DecideFunc
			switch i % 3 {
			case 0:
				decide = castTo(true)
			case 1:
				decide = castTo(false)
			default:
				decide = func(current *model.Vote) (model.VoteTransition, error) {
					if current == nil {
						return model.VoteTransition{Kind: model.TransitionNone}, nil
					}
					return removeVote(current)
				}
			}
			if _, err := s.Votes().Transition(context.Background(), "voter", "m1", decide); err != nil {
				t.Errorf("Transition: %v", err)
			}
		}(i)
	}
	wg.Wait()

	ctx := context.Background()
	v, _ := s.Votes().FindByVoterAndMessage(ctx, "voter", "m1")
	up, down := 0, 0
	if v != nil {
		if v.Value {
			up = 1
		} else {
			down = 1
		}
	}
	assertCounters(t, s, "m1", "author", up, down)
}

// TestMemoryStore_DeleteRacesWithVotes はメッセージ削除と投票が競合しても
// 削除済みメッセージを参照する投票が残らないことを検証する。
func TestMemoryStore_DeleteRacesWithVotes(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "author", "Jean Valjean")
	seedMessage(t, s, "m1", "author")

	const voters = 50
	for i := 0; i < voters; i++ {
		seedUser(t, s, fmt.Sprintf("v%d", i), fmt.Sprintf("voter-%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Votes().Transition(context.Background(), fmt.Sprintf("v%d", i), "m1", castTo(true))
			if err != nil && !model.HasCode(err, model.ErrCodeMessageNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.Messages().Delete(context.Background(), "m1"); err != nil {
			t.Errorf("Delete: %v", err)
		}
	}()
	wg.Wait()

	list, _ := s.Votes().ListByMessage(context.Background(), "m1")
	if len(list) != 0 {
		t.Errorf("%d votes reference a deleted message", len(list))
	}
	u, _ := s.Users().FindByID(context.Background(), "author")
	if u.UpVotes != 0 || u.DownVotes != 0 {
		t.Errorf("author counters = (%d, %d), want (0, 0)", u.UpVotes, u.DownVotes)
	}
}
