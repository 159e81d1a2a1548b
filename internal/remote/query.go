package remote

import "sort"

// Order sorts query results by a column
type Order struct {
	Column     string
	Descending bool
}

// Asc orders by column ascending
func Asc(column string) Order { return Order{Column: column} }

// Desc orders by column descending
func Desc(column string) Order { return Order{Column: column, Descending: true} }

// Count is a sub-selection counting the rows of Collection whose ForeignKey
// equals the selected row's id. The count is returned under Alias.
type Count struct {
	Alias      string
	Collection string
	ForeignKey string
}

// Query is a filtered, ordered read against one collection
type Query struct {
	Collection string
	Filter     Filter
	Order      []Order
	Counts     []Count
}

// Subscription returns a channel scope matching the query's collection and filter
func (q Query) Subscription(events EventMask) Subscription {
	return Subscription{Collection: q.Collection, Events: events, Filter: q.Filter}
}

// Sort orders rows in place by q.Order. Ties keep their relative position.
func (q Query) Sort(rows []Row) {
	if len(q.Order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range q.Order {
			c := compare(rows[i][o.Column], rows[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
