package sim

import (
	"context"
	"testing"

	"campusvault.org/internal/identity"
	"campusvault.org/internal/library"
)

func TestGeneratorNeverRepeatsPairs(t *testing.T) {
	g := NewGenerator(3, 42)
	seen := make(map[string]bool)
	n := 0
	for {
		op, ok := g.Next()
		if !ok {
			break
		}
		n++
		key := op.Student.Email + "/" + string(rune('0'+op.ResourceIndex))
		if seen[key] {
			t.Fatalf("pair repeated: %s", key)
		}
		seen[key] = true
		if op.Rating < 1 || op.Rating > 5 {
			t.Fatalf("rating out of range: %d", op.Rating)
		}
		if op.Comment == "" {
			t.Fatal("empty comment")
		}
	}
	if want := 3 * len(g.Students()); n != want {
		t.Fatalf("generated %d ops, want %d", n, want)
	}
}

func TestGeneratorDeterministicForSeed(t *testing.T) {
	a := NewGenerator(2, 7)
	b := NewGenerator(2, 7)
	for i := 0; i < 10; i++ {
		opA, okA := a.Next()
		opB, okB := b.Next()
		if okA != okB || opA != opB {
			t.Fatalf("run diverged at op %d: %+v vs %+v", i, opA, opB)
		}
	}
}

func TestWorkloadAgainstCatalog(t *testing.T) {
	catalog := library.NewInMemory()
	ctx := context.Background()

	owner := identity.User{ID: "owner", Name: "Owner", Email: "owner@nu.edu",
		Institution: "Nazarbayev University", IsApproved: true}
	var resources []library.Resource
	for i := 0; i < 3; i++ {
		res, err := catalog.CreateResource(ctx, library.ResourceDraft{
			Title:      "Workload Resource " + string(rune('A'+i)),
			Subject:    "Simulation",
			Department: "Computer Science",
			Semester:   1 + i,
			FileURL:    "https://files/sim.pdf",
		}, owner)
		if err != nil {
			t.Fatal(err)
		}
		resources = append(resources, res)
	}

	g := NewGenerator(len(resources), 1)
	tally := NewTally()
	for {
		op, ok := g.Next()
		if !ok {
			break
		}
		author := identity.User{
			ID:          op.Student.Email,
			Name:        op.Student.Name,
			Email:       op.Student.Email,
			Institution: op.Student.Institution,
			IsApproved:  true,
		}
		if _, err := catalog.SubmitReview(ctx, resources[op.ResourceIndex].ID, author, op.Rating, op.Comment); err != nil {
			t.Fatal(err)
		}
		tally.Add(op)
	}

	if tally.Total() != 3*len(g.Students()) {
		t.Fatalf("tally total = %d", tally.Total())
	}
	for i, res := range resources {
		got, err := catalog.GetResource(ctx, res.ID)
		if err != nil {
			t.Fatal(err)
		}
		wantAvg, wantCount := tally.Expected(i)
		if got.AverageRating != wantAvg || got.TotalRatings != wantCount {
			t.Fatalf("resource %d: stored {%v, %d}, expected {%v, %d}",
				i, got.AverageRating, got.TotalRatings, wantAvg, wantCount)
		}
	}
}
