package service_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/service"
)

func TestCreateChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.channels.Create(f.ctx, f.member, service.CreateChannelInput{Name: "mine"})
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	ch, err := f.channels.Create(f.ctx, f.admin, service.CreateChannelInput{Name: "  Release  Notes "})
	require.NoError(t, err)
	assert.Equal(t, "release-notes", ch.Name)
	assert.True(t, ch.IsMember)

	_, err = f.channels.Create(f.ctx, f.super, service.CreateChannelInput{Name: "release notes"})
	assert.ErrorIs(t, err, service.ErrChannelNameTaken)
	assert.ErrorIs(t, err, service.ErrConflict)

	_, err = f.channels.Create(f.ctx, f.admin, service.CreateChannelInput{Name: "x"})
	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)

	joined, err := f.channels.Join(f.ctx, f.outsider, f.channelID)
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = f.channels.Join(f.ctx, f.outsider, f.channelID)
	require.NoError(t, err)
	assert.False(t, joined)

	members, err := f.channels.ListMembers(f.ctx, f.outsider, f.channelID)
	require.NoError(t, err)
	assert.Len(t, members, 4)

	_, err = f.channels.Join(f.ctx, f.outsider, uuid.New())
	assert.ErrorIs(t, err, service.ErrChannelNotFound)
}

func TestLeaveRevokesAccess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.typing.Signal(f.ctx, f.other, f.channelID, true))
	f.notes.reset()

	require.NoError(t, f.channels.Leave(f.ctx, f.other, f.channelID))

	access := f.notes.of("access")
	require.Len(t, access, 1)
	assert.Equal(t, f.channelID, access[0].ChannelID)
	assert.Equal(t, f.other.ID, access[0].UserID)
	assert.False(t, access[0].Member)
	assert.Nil(t, access[0].Admin)

	typing := f.notes.of("typing")
	require.Len(t, typing, 1)
	assert.Empty(t, typing[0].Typing.Users)

	_, err := f.messages.List(f.ctx, f.other, f.channelID, service.ListMessagesInput{})
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	ch, err := f.channels.Get(f.ctx, f.admin, f.channelID)
	require.NoError(t, err)
	assert.True(t, ch.IsMember)
}

func TestMemberManagement(t *testing.T) {
	f := newFixture(t)

	_, err := f.channels.AddMember(f.ctx, f.member, f.channelID, f.outsider.ID)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	added, err := f.channels.AddMember(f.ctx, f.admin, f.channelID, f.outsider.ID)
	require.NoError(t, err)
	assert.True(t, added)

	_, err = f.channels.AddMember(f.ctx, f.admin, f.channelID, uuid.New())
	assert.ErrorIs(t, err, service.ErrProfileNotFound)

	assert.ErrorIs(t, f.channels.RemoveMember(f.ctx, f.member, f.channelID, f.outsider.ID), service.ErrUnauthorized)
	require.NoError(t, f.channels.RemoveMember(f.ctx, f.outsider, f.channelID, f.outsider.ID))
	require.NoError(t, f.channels.RemoveMember(f.ctx, f.admin, f.channelID, f.other.ID))

	members, err := f.channels.ListMembers(f.ctx, f.admin, f.channelID)
	require.NoError(t, err)
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	assert.ElementsMatch(t, []uuid.UUID{f.admin.ID, f.member.ID}, ids)
}

func TestRemoveMemberNotifiesAccess(t *testing.T) {
	f := newFixture(t)
	f.notes.reset()

	require.NoError(t, f.channels.RemoveMember(f.ctx, f.admin, f.channelID, f.other.ID))

	access := f.notes.of("access")
	require.Len(t, access, 1)
	assert.Equal(t, f.other.ID, access[0].UserID)
	assert.False(t, access[0].Member)
	assert.Empty(t, f.notes.of("typing"), "nobody was typing")
}

func TestCreateChannelAddsCreatorAtomically(t *testing.T) {
	f := newFixture(t)
	ghost := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin, Username: "ghost"}

	_, err := f.channels.Create(f.ctx, ghost, service.CreateChannelInput{Name: "orphaned"})
	assert.ErrorIs(t, err, service.ErrProfileNotFound)

	channels, err := f.channels.List(f.ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "general", channels[0].Name)
}

func TestListChannelsMarksMembership(t *testing.T) {
	f := newFixture(t)
	_, err := f.channels.Create(f.ctx, f.admin, service.CreateChannelInput{Name: "announcements"})
	require.NoError(t, err)

	channels, err := f.channels.List(f.ctx, f.member)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "announcements", channels[0].Name)
	assert.False(t, channels[0].IsMember)
	assert.Equal(t, "general", channels[1].Name)
	assert.True(t, channels[1].IsMember)
}

func TestDeleteChannel(t *testing.T) {
	f := newFixture(t)
	msg := f.post(t, f.member, "soon gone")

	assert.ErrorIs(t, f.channels.Delete(f.ctx, f.member, f.channelID), service.ErrUnauthorized)
	require.NoError(t, f.channels.Delete(f.ctx, f.admin, f.channelID))

	deleted := f.notes.of("channel_deleted")
	require.Len(t, deleted, 1)
	assert.Equal(t, f.channelID, deleted[0].ChannelID)

	stored, err := f.store.Messages.GetByID(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = f.channels.Get(f.ctx, f.admin, f.channelID)
	assert.ErrorIs(t, err, service.ErrChannelNotFound)
	assert.ErrorIs(t, f.channels.Delete(f.ctx, f.admin, f.channelID), service.ErrChannelNotFound)
}

func TestUpdateRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.profiles.UpdateRole(f.ctx, f.admin, f.member.ID, domain.RoleAdmin)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	p, err := f.profiles.UpdateRole(f.ctx, f.super, f.member.ID, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, p.Role)

	_, err = f.profiles.UpdateRole(f.ctx, f.super, f.super.ID, domain.RoleMember)
	assert.ErrorIs(t, err, service.ErrOwnRole)

	_, err = f.profiles.UpdateRole(f.ctx, f.super, f.member.ID, domain.Role("owner"))
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.profiles.UpdateRole(f.ctx, f.super, uuid.New(), domain.RoleMember)
	assert.ErrorIs(t, err, service.ErrProfileNotFound)
}

func TestRoleChangeNotifiesSessions(t *testing.T) {
	f := newFixture(t)
	_, err := f.channels.Create(f.ctx, f.admin, service.CreateChannelInput{Name: "staff"})
	require.NoError(t, err)
	f.notes.reset()

	// Same admin status: nothing to tell.
	_, err = f.profiles.UpdateRole(f.ctx, f.super, f.member.ID, domain.RoleMember)
	require.NoError(t, err)
	assert.Empty(t, f.notes.of("access"))

	_, err = f.profiles.UpdateRole(f.ctx, f.super, f.admin.ID, domain.RoleMember)
	require.NoError(t, err)

	access := f.notes.of("access")
	require.Len(t, access, 2)
	for _, n := range access {
		assert.Equal(t, f.admin.ID, n.UserID)
		require.NotNil(t, n.Admin)
		assert.False(t, *n.Admin)
		assert.True(t, n.Member, "the admin created both channels")
	}

	f.notes.reset()
	_, err = f.profiles.UpdateRole(f.ctx, f.super, f.other.ID, domain.RoleAdmin)
	require.NoError(t, err)

	access = f.notes.of("access")
	require.Len(t, access, 2)
	members := map[uuid.UUID]bool{}
	for _, n := range access {
		require.NotNil(t, n.Admin)
		assert.True(t, *n.Admin)
		members[n.ChannelID] = n.Member
	}
	assert.True(t, members[f.channelID])
}

func TestUpsertProfile(t *testing.T) {
	f := newFixture(t)

	p, err := f.profiles.Upsert(f.ctx, service.UpsertProfileInput{Username: "zoe", DisplayName: "Zoe"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, p.Role)

	again, err := f.profiles.Upsert(f.ctx, service.UpsertProfileInput{ID: p.ID, Username: "zoe", DisplayName: "Zoe K."})
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)

	_, err = f.profiles.Upsert(f.ctx, service.UpsertProfileInput{Username: "zoe", DisplayName: "Other Zoe"})
	assert.ErrorIs(t, err, service.ErrConflict)

	me, err := f.profiles.Me(f.ctx, domain.ActorFromProfile(again))
	require.NoError(t, err)
	assert.Equal(t, "Zoe K.", me.DisplayName)
}
