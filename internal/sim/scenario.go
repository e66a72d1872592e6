package sim

import (
	"math/rand"
	"time"
)

// Student is a synthetic reviewer identity used by workload generation.
type Student struct {
	Name        string
	Email       string
	Institution string
}

// ReviewOp is one generated review submission.
type ReviewOp struct {
	ResourceIndex int
	Student       Student
	Rating        int
	Comment       string
}

// Scenario bundles a reviewer population with comment templates.
type Scenario struct {
	Name     string
	Students []Student
	Comments []string
}

// CampusScenario returns the default synthetic campus population.
func CampusScenario() Scenario {
	return Scenario{
		Name: "CampusReviewBurst",
		Students: []Student{
			{Name: "Aigerim S.", Email: "aigerim@kaznu.edu", Institution: "Al-Farabi Kazakh National University"},
			{Name: "Nursultan K.", Email: "nursultan@nu.edu", Institution: "Nazarbayev University"},
			{Name: "Madina T.", Email: "madina@kbtu.edu", Institution: "Kazakh-British Technical University"},
			{Name: "Olzhas B.", Email: "olzhas@satbayev.edu", Institution: "Satbayev University"},
			{Name: "Dana E.", Email: "dana@kimep.edu", Institution: "KIMEP University"},
		},
		Comments: []string{
			"Clear explanations, helped before the midterm",
			"Solutions skip a few steps but the approach is right",
			"Well organized, matches the current syllabus",
			"Scans are readable, examples are the strongest part",
		},
	}
}

// Generator produces a reproducible stream of review operations over a fixed
// set of resources. Each student reviews a given resource at most once, which
// mirrors the uniqueness rule the catalog enforces.
type Generator struct {
	scenario  Scenario
	resources int
	rnd       *rand.Rand
	used      map[[2]int]bool // (resource, student) pairs already emitted
}

// NewGenerator builds a Generator over resourceCount resources. A zero seed
// derives one from the clock.
func NewGenerator(resourceCount int, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		scenario:  CampusScenario(),
		resources: resourceCount,
		rnd:       rand.New(rand.NewSource(seed)),
		used:      make(map[[2]int]bool),
	}
}

// Next returns the next review operation, or false once every
// (resource, student) pair has been used.
func (g *Generator) Next() (ReviewOp, bool) {
	if g.resources < 1 || len(g.scenario.Students) == 0 {
		return ReviewOp{}, false
	}
	if len(g.used) >= g.resources*len(g.scenario.Students) {
		return ReviewOp{}, false
	}
	for {
		ri := g.rnd.Intn(g.resources)
		si := g.rnd.Intn(len(g.scenario.Students))
		key := [2]int{ri, si}
		if g.used[key] {
			continue
		}
		g.used[key] = true
		// Skew toward high ratings the way real catalogs trend.
		rating := 3 + g.rnd.Intn(3)
		if g.rnd.Intn(10) == 0 {
			rating = 1 + g.rnd.Intn(2)
		}
		return ReviewOp{
			ResourceIndex: ri,
			Student:       g.scenario.Students[si],
			Rating:        rating,
			Comment:       g.scenario.Comments[g.rnd.Intn(len(g.scenario.Comments))],
		}, true
	}
}

// Students returns a copy of the reviewer population.
func (g *Generator) Students() []Student {
	return append([]Student(nil), g.scenario.Students...)
}
