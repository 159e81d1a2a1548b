package reviews

import (
	"testing"

	"bookshelf/internal/remote"

	"github.com/stretchr/testify/require"
)

func ratings(rs ...int) []Review {
	out := make([]Review, len(rs))
	for i, r := range rs {
		out[i] = Review{ID: string(rune('a' + i)), Rating: r}
	}
	return out
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name    string
		ratings []int
		want    Stats
	}{
		{"no reviews", nil, Stats{Average: 0, Total: 0}},
		{"single", []int{5}, Stats{Average: 5, Total: 1}},
		{"scenario", []int{4, 5, 3}, Stats{Average: 4.0, Total: 3}},
		{"exact half", []int{4, 5}, Stats{Average: 4.5, Total: 2}},
		{"rounds up a trailing half", []int{4, 4, 4, 5}, Stats{Average: 4.3, Total: 4}},
		{"rounds thirds", []int{1, 2, 2}, Stats{Average: 1.7, Total: 3}},
		{"rounds down", []int{1, 1, 2}, Stats{Average: 1.3, Total: 3}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, Aggregate(ratings(c.ratings...)))
		})
	}
}

func TestAggregateHalfOfTwentieths(t *testing.T) {
	// 81 / 20 = 4.05 must round to 4.1, not to the float neighbour below
	rs := make([]int, 0, 20)
	for i := 0; i < 19; i++ {
		rs = append(rs, 4)
	}
	rs = append(rs, 5)
	require.Equal(t, 4.1, Aggregate(ratings(rs...)).Average)
}

func TestResolve(t *testing.T) {
	rs := []Review{{ID: "1", UserID: "a"}, {ID: "2", UserID: "b"}}

	r, ok := Resolve(rs, "b")
	require.True(t, ok)
	require.Equal(t, "2", r.ID)

	_, ok = Resolve(rs, "c")
	require.False(t, ok)

	_, ok = Resolve(rs, "")
	require.False(t, ok)
}

func TestFromRow(t *testing.T) {
	r, err := FromRow(remote.Row{"id": "r1", "book_id": "b", "user_id": "u", "rating": int16(4), "review_text": "good"})
	require.NoError(t, err)
	require.Equal(t, Review{ID: "r1", BookID: "b", UserID: "u", Rating: 4, Body: "good"}, r)

	_, err = FromRow(remote.Row{"rating": 4})
	require.Error(t, err)
}
