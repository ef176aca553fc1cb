package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallStatus(t *testing.T) {
	cases := map[string]CallStatus{
		"ANSWERED":  CallCompleted,
		"answered":  CallCompleted,
		"completed": CallCompleted,
		"no answer": CallNoAnswer,
		"no-answer": CallNoAnswer,
		"NOANSWER":  CallNoAnswer,
		" ringing ": CallRinging,
		"queued":    CallInitiated,
		"Busy":      CallBusy,
	}
	for in, want := range cases {
		got, err := ParseCallStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCallStatus("exploded")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCallStatus_CanTransition(t *testing.T) {
	assert.True(t, CallInitiated.CanTransition(CallRinging))
	assert.True(t, CallInitiated.CanTransition(CallCompleted))
	assert.True(t, CallRinging.CanTransition(CallNoAnswer))
	assert.True(t, CallRinging.CanTransition(CallRinging))
	assert.True(t, CallCompleted.CanTransition(CallCompleted))

	assert.False(t, CallRinging.CanTransition(CallInitiated))
	assert.False(t, CallCompleted.CanTransition(CallFailed))
	assert.False(t, CallFailed.CanTransition(CallCompleted))

	assert.True(t, CallBusy.IsTerminal())
	assert.False(t, CallRinging.IsTerminal())
	assert.True(t, CallCompleted.IsBillable())
	assert.False(t, CallFailed.IsBillable())
}

func TestParseEntryType(t *testing.T) {
	typ, ok := ParseEntryType("credit")
	assert.True(t, ok)
	assert.Equal(t, EntryCredit, typ)

	typ, ok = ParseEntryType("ALL")
	assert.True(t, ok)
	assert.Empty(t, typ)

	_, ok = ParseEntryType("refund")
	assert.False(t, ok)

	assert.True(t, EntryDebit.Signed(decimal.NewFromInt(5)).Equal(decimal.NewFromInt(-5)))
}

func TestNormalizePage(t *testing.T) {
	p, s := NormalizePage(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, DefaultPageSize, s)

	_, s = NormalizePage(2, 500)
	assert.Equal(t, MaxPageSize, s)

	_, s = NormalizePage(2, -3)
	assert.Equal(t, 1, s)

	assert.Equal(t, Pagination{Page: 2, Limit: 20, Total: 41, TotalPages: 3}, NewPagination(2, 20, 41))
	assert.Equal(t, 0, NewPagination(1, 20, 0).TotalPages)
}

func TestStorageError(t *testing.T) {
	assert.Nil(t, Storage("op", nil))

	err := Storage("insert entry", assert.AnError)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "insert entry")
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"3.5", true},
		{"100", true},
		{"0.0001", true},
		{"0.00001", false},
		{"12.34567", false},
		{"0", false},
		{"-1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAmount(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"", "", true},
		{"ALL", "", true},
		{"Admin", RoleAdmin, true},
		{" user ", RoleUser, true},
		{"root", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
