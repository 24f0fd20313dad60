package loans

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"biblio/internal/library/models"
)

func TestEstimateDueDateSingleCopy(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		loanType models.LoanType
		docType  models.DocumentType
		want     time.Time
	}{
		{"in branch book", models.LoanInBranch, models.DocumentBook, at.Add(4 * time.Hour)},
		{"in branch multimedia", models.LoanInBranch, models.DocumentMultimedia, at.Add(4 * time.Hour)},
		{"home book", models.LoanHome, models.DocumentBook, at.Add(7 * 24 * time.Hour)},
		{"home multimedia", models.LoanHome, models.DocumentMultimedia, at.Add(3 * 24 * time.Hour)},
		{"home uppercase type", models.LoanHome, models.DocumentType("BOOK"), at.Add(7 * 24 * time.Hour)},
		{"home unknown type", models.LoanHome, models.DocumentType("map"), at.Add(5 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateDueDate(tt.loanType, []models.DocumentType{tt.docType}, at)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimateDueDateTakesSoonest(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	// A multimedia item in the basket tightens the whole loan to 3 days.
	got := EstimateDueDate(models.LoanHome,
		[]models.DocumentType{models.DocumentBook, models.DocumentMultimedia, models.DocumentBook}, at)
	assert.Equal(t, at.Add(3*24*time.Hour), got)

	// Books only keep the 7 day window.
	got = EstimateDueDate(models.LoanHome,
		[]models.DocumentType{models.DocumentBook, models.DocumentBook}, at)
	assert.Equal(t, at.Add(7*24*time.Hour), got)
}

func TestEstimateDueDateEmptyBasketUsesDefault(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	got := EstimateDueDate(models.LoanHome, nil, at)
	assert.Equal(t, at.Add(5*24*time.Hour), got)
}
