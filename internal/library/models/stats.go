package models

// LoanStats aggregates loan counts for the back-office dashboard.
type LoanStats struct {
	Active   int
	Overdue  int
	Returned int
	InBranch int
	Home     int
}

// ReservationStats aggregates reservation counts by state.
type ReservationStats struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Cancelled int
}
