package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threadInfo(root string) ThreadInfo {
	return ThreadInfo{ChannelID: "C1", ThreadTS: root, Day: testDay}
}

func TestBackfill_SeedsHistoryThenLiveReplyOnce(t *testing.T) {
	fake := newFakeSlack()
	b := newTestBot(t, fake)
	root := tsAt(0)

	history := []slack.Message{slackMsg(root, root, "UA", "42")}
	want := 0.0
	for i := 1; i <= 50; i++ {
		history = append(history, slackMsg(tsAt(time.Duration(i)*time.Second), root, "UA", fmt.Sprintf("%d", i)))
		want += float64(i)
	}
	fake.addThreadHistory(root, history, 20)

	scanner := NewBackfillScanner(fake, b.store, b.stateManager, "UBOT", 20, 0)
	seeded, err := scanner.ScanThread(context.Background(), threadInfo(root))
	require.NoError(t, err)
	assert.Equal(t, 50, seeded)
	assert.Equal(t, 3, fake.repliesCalls)
	assert.Empty(t, fake.Posts())

	live := tsAt(51 * time.Second)
	require.NoError(t, b.ingestor.Handle(context.Background(), created(root, live, "UB", "51")))

	thread := NewThreadID("C1", root)
	assert.InDelta(t, want+51, b.store.ThreadTotal(testDay, thread), 1e-9)
	assert.Equal(t, 51, b.store.EntryCount(testDay, thread))

	posts := fake.Posts()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Text, "Recorded 51")
}

func TestBackfill_SkipsRootBotsAndNonNumeric(t *testing.T) {
	fake := newFakeSlack()
	store := NewStore()
	root := tsAt(0)

	botMsg := slackMsg(tsAt(3*time.Second), root, "UX", "7")
	botMsg.BotID = "B1"
	fake.addThreadHistory(root, []slack.Message{
		slackMsg(root, root, "UA", "100"),
		slackMsg(tsAt(1*time.Second), root, "UA", "hello"),
		slackMsg(tsAt(2*time.Second), root, "UBOT", "✅ Recorded 3"),
		botMsg,
		slackMsg(tsAt(4*time.Second), root, "UB", "2.5"),
		slackMsg(tsAt(5*time.Second), root, "UB", "12abc"),
	}, 100)

	scanner := NewBackfillScanner(fake, store, newTestStateManager(t), "UBOT", 100, 0)
	seeded, err := scanner.ScanThread(context.Background(), threadInfo(root))
	require.NoError(t, err)

	assert.Equal(t, 1, seeded)
	assert.InDelta(t, 2.5, store.ThreadTotal(testDay, NewThreadID("C1", root)), 1e-9)
}

func TestBackfill_LiveValueWins(t *testing.T) {
	fake := newFakeSlack()
	store := NewStore()
	root := tsAt(0)
	thread := NewThreadID("C1", root)
	msg := tsAt(time.Second)

	store.Upsert(testDay, thread, MessageID(msg), "UA", 10)
	fake.addThreadHistory(root, []slack.Message{slackMsg(msg, root, "UA", "5")}, 100)

	scanner := NewBackfillScanner(fake, store, newTestStateManager(t), "UBOT", 100, 0)
	seeded, err := scanner.ScanThread(context.Background(), threadInfo(root))
	require.NoError(t, err)

	assert.Zero(t, seeded)
	assert.InDelta(t, 10.0, store.ThreadTotal(testDay, thread), 1e-9)
}

func TestBackfill_RestoresAcknowledgment(t *testing.T) {
	fake := newFakeSlack()
	b := newTestBot(t, fake)
	root := tsAt(0)
	msg := tsAt(time.Second)

	b.stateManager.MarkAcknowledged("C1", msg)
	fake.addThreadHistory(root, []slack.Message{slackMsg(msg, root, "UA", "5")}, 100)

	scanner := NewBackfillScanner(fake, b.store, b.stateManager, "UBOT", 100, 0)
	_, err := scanner.ScanThread(context.Background(), threadInfo(root))
	require.NoError(t, err)

	entry, ok := b.store.Get(testDay, NewThreadID("C1", root), MessageID(msg))
	require.True(t, ok)
	assert.True(t, entry.Acknowledged)

	require.NoError(t, b.ingestor.Handle(context.Background(), edited(root, msg, "UA", "6")))
	assert.Empty(t, fake.Posts())
}

func TestBackfill_FailureAbortsOnlyThatThread(t *testing.T) {
	fake := newFakeSlack()
	store := NewStore()
	rootA := tsAt(0)
	rootB := tsAt(time.Hour)

	var msgsA, msgsB []slack.Message
	for i := 1; i <= 4; i++ {
		msgsA = append(msgsA, slackMsg(tsAt(time.Duration(i)*time.Second), rootA, "UA", "1"))
		msgsB = append(msgsB, slackMsg(tsAt(time.Hour+time.Duration(i)*time.Second), rootB, "UA", "2"))
	}
	fake.addThreadHistory(rootA, msgsA, 2)
	fake.addThreadHistory(rootB, msgsB, 2)
	fake.repliesFail[rootA] = 1

	scanner := NewBackfillScanner(fake, store, newTestStateManager(t), "UBOT", 2, 0)

	seeded, err := scanner.ScanThread(context.Background(), threadInfo(rootA))
	require.ErrorIs(t, err, errFakeSlack)
	assert.Equal(t, 2, seeded)

	seeded, err = scanner.ScanThread(context.Background(), threadInfo(rootB))
	require.NoError(t, err)
	assert.Equal(t, 4, seeded)
	assert.InDelta(t, 8.0, store.ThreadTotal(testDay, NewThreadID("C1", rootB)), 1e-9)
}

func TestBackfill_EmptyThread(t *testing.T) {
	fake := newFakeSlack()
	scanner := NewBackfillScanner(fake, NewStore(), newTestStateManager(t), "UBOT", 0, 0)

	seeded, err := scanner.ScanThread(context.Background(), threadInfo(tsAt(0)))
	require.NoError(t, err)
	assert.Zero(t, seeded)
	assert.Equal(t, 1, fake.repliesCalls)
	assert.Equal(t, DefaultPageSize, scanner.pageSize)
}

func TestBackfill_CanceledBetweenPages(t *testing.T) {
	fake := newFakeSlack()
	root := tsAt(0)
	fake.addThreadHistory(root, []slack.Message{
		slackMsg(tsAt(time.Second), root, "UA", "1"),
		slackMsg(tsAt(2*time.Second), root, "UA", "1"),
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewBackfillScanner(fake, NewStore(), newTestStateManager(t), "UBOT", 1, time.Hour)
	seeded, err := scanner.ScanThread(ctx, threadInfo(root))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, seeded)
}
