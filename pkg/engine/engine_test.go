package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"l7mp.io/interactive-engine/pkg/command"
	"l7mp.io/interactive-engine/pkg/manager"
	"l7mp.io/interactive-engine/pkg/plan"
	"l7mp.io/interactive-engine/pkg/value"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine")
}

type uexpr = value.ColRef[value.Uint]
type uplan = plan.Plan[value.Uint, uexpr]
type uquery = command.Query[value.Uint, uexpr]

func proj(i int) uexpr { return value.Projection[value.Uint](i) }

func uread(name string) uplan { return plan.Read[value.Uint, uexpr](name) }

func key(l, r int) plan.JoinKey[value.Uint, uexpr] {
	return plan.JoinKey[value.Uint, uexpr]{Left: proj(l), Right: proj(r)}
}

// tcQuery computes the transitive closure of "edges" and publishes it:
// tc = edges ∪ π₀,₃(edges ⋈ tc).
func tcQuery() uquery {
	body := plan.Union(
		uread("edges"),
		plan.Project(plan.Join(uread("edges"), uread("tc"), key(1, 0)), 0, 3))
	return command.NewQuery[value.Uint, uexpr]().
		AddRule(command.Rule[value.Uint, uexpr]{Name: "tc", Plan: body}).
		AddPublish(uread("tc"), []int{0})
}

var _ = Describe("Validation", func() {
	var mgr *manager.Manager[value.Uint]
	var eng *Engine[value.Uint, uexpr]
	ctx := context.Background()

	BeforeEach(func() {
		mgr = manager.New[value.Uint](logr.Discard())
		_, err := mgr.GetOrCreateInput("edges", 2)
		Expect(err).NotTo(HaveOccurred())
		eng = New[value.Uint, uexpr](mgr, WithWorkers(2))
	})

	It("rejects duplicate rule names", func() {
		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: uread("edges")}).
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: uread("edges")})
		_, err := eng.InstallQuery(ctx, q)

		var verr *plan.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
	})

	It("rejects reads that resolve to nothing", func() {
		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: uread("ghost")})
		_, err := eng.InstallQuery(ctx, q)
		Expect(err).To(HaveOccurred())
	})

	It("rejects out-of-bounds projections", func() {
		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: plan.Project(uread("edges"), 5)})
		_, err := eng.InstallQuery(ctx, q)

		var oob *value.OutOfBoundsError
		Expect(errors.As(err, &oob)).To(BeTrue())
	})

	It("leaves registries unchanged on a failed install", func() {
		before := mgr.ArrangementNames()
		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: uread("edges")}).
			AddImport(uread("missing"), []int{0}).
			AddPublish(uread("r"), []int{0})
		_, err := eng.InstallQuery(ctx, q)

		var verr *plan.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(mgr.ArrangementNames()).To(Equal(before))
		Expect(mgr.InputNames()).To(Equal([]string{"edges"}))
	})

	It("rejects rule names colliding with import names", func() {
		_, err := mgr.RegisterPublish("dup", 2, []int{0})
		Expect(err).NotTo(HaveOccurred())

		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "dup", Plan: uread("edges")}).
			AddImport(uread("dup"), []int{0}).
			AddPublish(uread("dup"), []int{0})
		_, err = eng.InstallQuery(ctx, q)

		var verr *plan.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
	})

	It("rejects publish key columns beyond the rule arity", func() {
		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: uread("edges")}).
			AddPublish(uread("r"), []int{7})
		_, err := eng.InstallQuery(ctx, q)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Join queries", func() {
	var mgr *manager.Manager[value.Uint]
	var eng *Engine[value.Uint, uexpr]
	ctx := context.Background()

	BeforeEach(func() {
		mgr = manager.New[value.Uint](logr.Discard())
		eng = New[value.Uint, uexpr](mgr, WithWorkers(2))
	})

	It("maintains an equi-join across steps, inserts and retractions", func() {
		a, err := mgr.GetOrCreateInput("a", 2)
		Expect(err).NotTo(HaveOccurred())
		b, err := mgr.GetOrCreateInput("b", 2)
		Expect(err).NotTo(HaveOccurred())

		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{
				Name: "joined",
				Plan: plan.Join(uread("a"), uread("b"), key(0, 0)),
			}).
			AddPublish(uread("joined"), []int{0})
		_, err = eng.InstallQuery(ctx, q)
		Expect(err).NotTo(HaveOccurred())

		Expect(a.Insert(value.UintTuple(1, 100), time.Second)).To(Succeed())
		Expect(b.Insert(value.UintTuple(1, 200), time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 2*time.Second)).To(Succeed())

		arr, ok := mgr.GetArrangement("joined")
		Expect(ok).To(BeTrue())
		Expect(arr.Snapshot().Multiplicity(value.UintTuple(1, 100, 1, 200))).To(Equal(1))

		// A second b tuple joins against the retained a side.
		Expect(b.Insert(value.UintTuple(1, 300), 3*time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 4*time.Second)).To(Succeed())
		Expect(arr.Snapshot().Multiplicity(value.UintTuple(1, 100, 1, 300))).To(Equal(1))
		Expect(arr.Snapshot().UniqueCount()).To(Equal(2))

		// Retracting the a tuple retracts every match derived from it.
		Expect(a.Remove(value.UintTuple(1, 100), 5*time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 6*time.Second)).To(Succeed())
		Expect(arr.Snapshot().IsZero()).To(BeTrue())
		Expect(arr.Frontier()).To(Equal(6 * time.Second))
	})

	It("applies multiple drained times in order within one step", func() {
		a, err := mgr.GetOrCreateInput("a", 2)
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.GetOrCreateInput("b", 2)
		Expect(err).NotTo(HaveOccurred())

		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: uread("a")}).
			AddPublish(uread("r"), []int{0})
		_, err = eng.InstallQuery(ctx, q)
		Expect(err).NotTo(HaveOccurred())

		Expect(a.Insert(value.UintTuple(1, 1), time.Second)).To(Succeed())
		Expect(a.Remove(value.UintTuple(1, 1), 2*time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 3*time.Second)).To(Succeed())

		arr, ok := mgr.GetArrangement("r")
		Expect(ok).To(BeTrue())
		Expect(arr.ReadAt(time.Second).Multiplicity(value.UintTuple(1, 1))).To(Equal(1))
		Expect(arr.Snapshot().IsZero()).To(BeTrue())
	})
})

var _ = Describe("Frontier discipline", func() {
	var mgr *manager.Manager[value.Uint]
	var eng *Engine[value.Uint, uexpr]
	var src *manager.InputHandle[value.Uint]
	ctx := context.Background()

	BeforeEach(func() {
		mgr = manager.New[value.Uint](logr.Discard())
		var err error
		src, err = mgr.GetOrCreateInput("src", 1)
		Expect(err).NotTo(HaveOccurred())
		eng = New[value.Uint, uexpr](mgr, WithWorkers(2))

		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "r", Plan: uread("src")}).
			AddPublish(uread("r"), []int{0})
		_, err = eng.InstallQuery(ctx, q)
		Expect(err).NotTo(HaveOccurred())
	})

	It("never rewrites a completed time for late updates", func() {
		Expect(src.Insert(value.UintTuple(1), time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 2*time.Second)).To(Succeed())

		arr, ok := mgr.GetArrangement("r")
		Expect(ok).To(BeTrue())
		Expect(arr.ReadAt(2 * time.Second).Multiplicity(value.UintTuple(7))).To(Equal(0))

		// An update stamped below the completed frontier takes effect at
		// the next step's frontier instead of rewriting history.
		Expect(src.Insert(value.UintTuple(7), 1500*time.Millisecond)).To(Succeed())
		Expect(eng.Step(ctx, 3*time.Second)).To(Succeed())

		Expect(arr.ReadAt(2 * time.Second).Multiplicity(value.UintTuple(7))).To(Equal(0))
		Expect(arr.ReadAt(3 * time.Second).Multiplicity(value.UintTuple(7))).To(Equal(1))
		Expect(arr.Snapshot().Multiplicity(value.UintTuple(1))).To(Equal(1))
		Expect(eng.Frontier()).To(Equal(3 * time.Second))
	})
})

var _ = Describe("Recursive queries", func() {
	var mgr *manager.Manager[value.Uint]
	var eng *Engine[value.Uint, uexpr]
	var edges *manager.InputHandle[value.Uint]
	ctx := context.Background()

	BeforeEach(func() {
		mgr = manager.New[value.Uint](logr.Discard())
		var err error
		edges, err = mgr.GetOrCreateInput("edges", 2)
		Expect(err).NotTo(HaveOccurred())
		eng = New[value.Uint, uexpr](mgr, WithWorkers(2), WithMaxIterations(100))
	})

	chain := func(t time.Duration, pairs ...[2]uint) {
		for _, p := range pairs {
			Expect(edges.Insert(value.UintTuple(p[0], p[1]), t)).To(Succeed())
		}
	}

	It("computes the transitive closure of a chain", func() {
		_, err := eng.InstallQuery(ctx, tcQuery())
		Expect(err).NotTo(HaveOccurred())

		chain(time.Second, [2]uint{1, 2}, [2]uint{2, 3}, [2]uint{3, 4})
		Expect(eng.Step(ctx, 2*time.Second)).To(Succeed())

		arr, ok := mgr.GetArrangement("tc")
		Expect(ok).To(BeTrue())
		snap := arr.Snapshot()
		Expect(snap.UniqueCount()).To(Equal(6))
		Expect(snap.Multiplicity(value.UintTuple(1, 4))).To(Equal(1))
		Expect(snap.Multiplicity(value.UintTuple(2, 4))).To(Equal(1))

		// Extending the chain by one edge adds exactly the new paths.
		chain(3*time.Second, [2]uint{4, 5})
		Expect(eng.Step(ctx, 4*time.Second)).To(Succeed())
		snap = arr.Snapshot()
		Expect(snap.UniqueCount()).To(Equal(10))
		Expect(snap.Multiplicity(value.UintTuple(1, 5))).To(Equal(1))
	})

	It("evaluates explicit iterate plans incrementally", func() {
		seed, err := mgr.GetOrCreateInput("seed", 1)
		Expect(err).NotTo(HaveOccurred())

		// reach = fix r. seed ∪ π₂(r ⋈ edges)
		body := plan.Iterate("r", plan.Union(
			uread("seed"),
			plan.Project(plan.Join(uread("r"), uread("edges"), key(0, 0)), 2)))
		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "reach", Plan: body}).
			AddPublish(uread("reach"), []int{0})
		_, err = eng.InstallQuery(ctx, q)
		Expect(err).NotTo(HaveOccurred())

		Expect(seed.Insert(value.UintTuple(1), time.Second)).To(Succeed())
		chain(time.Second, [2]uint{1, 2}, [2]uint{2, 3})
		Expect(eng.Step(ctx, 2*time.Second)).To(Succeed())

		arr, ok := mgr.GetArrangement("reach")
		Expect(ok).To(BeTrue())
		Expect(arr.Snapshot().UniqueCount()).To(Equal(3))

		chain(3*time.Second, [2]uint{3, 4})
		Expect(eng.Step(ctx, 4*time.Second)).To(Succeed())
		Expect(arr.Snapshot().UniqueCount()).To(Equal(4))
		Expect(arr.Snapshot().Multiplicity(value.UintTuple(4))).To(Equal(1))
	})

	It("fails a query exceeding the iteration bound without touching others", func() {
		bounded := New[value.Uint, uexpr](mgr, WithWorkers(2), WithMaxIterations(2))

		tcID, err := bounded.InstallQuery(ctx, tcQuery())
		Expect(err).NotTo(HaveOccurred())

		q := command.NewQuery[value.Uint, uexpr]().
			AddRule(command.Rule[value.Uint, uexpr]{Name: "copy", Plan: uread("edges")}).
			AddPublish(uread("copy"), []int{0})
		copyID, err := bounded.InstallQuery(ctx, q)
		Expect(err).NotTo(HaveOccurred())

		chain(time.Second, [2]uint{1, 2}, [2]uint{2, 3}, [2]uint{3, 4}, [2]uint{4, 5})
		Expect(bounded.Step(ctx, 2*time.Second)).To(Succeed())

		st, ok := bounded.Status(tcID)
		Expect(ok).To(BeTrue())
		Expect(st).To(Equal(Failed))
		st, ok = bounded.Status(copyID)
		Expect(ok).To(BeTrue())
		Expect(st).To(Equal(Installed))

		arr, ok := mgr.GetArrangement("copy")
		Expect(ok).To(BeTrue())
		Expect(arr.Snapshot().UniqueCount()).To(Equal(4))
	})
})

var _ = Describe("Sharing and lifecycle", func() {
	var mgr *manager.Manager[value.Uint]
	var eng *Engine[value.Uint, uexpr]
	var edges *manager.InputHandle[value.Uint]
	var tcID string
	ctx := context.Background()

	importerQuery := func() uquery {
		return command.NewQuery[value.Uint, uexpr]().
			AddImport(uread("tc"), []int{0}).
			AddRule(command.Rule[value.Uint, uexpr]{Name: "heads", Plan: plan.Project(uread("tc"), 0)}).
			AddPublish(uread("heads"), []int{0})
	}

	BeforeEach(func() {
		mgr = manager.New[value.Uint](logr.Discard())
		var err error
		edges, err = mgr.GetOrCreateInput("edges", 2)
		Expect(err).NotTo(HaveOccurred())
		eng = New[value.Uint, uexpr](mgr, WithWorkers(2), WithMaxIterations(100))

		tcID, err = eng.InstallQuery(ctx, tcQuery())
		Expect(err).NotTo(HaveOccurred())
		Expect(edges.Insert(value.UintTuple(1, 2), time.Second)).To(Succeed())
		Expect(edges.Insert(value.UintTuple(2, 3), time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 2*time.Second)).To(Succeed())
	})

	It("hydrates late importers with the full history", func() {
		_, err := eng.InstallQuery(ctx, importerQuery())
		Expect(err).NotTo(HaveOccurred())

		// The publish reflects the imported history before any new step.
		arr, ok := mgr.GetArrangement("heads")
		Expect(ok).To(BeTrue())
		snap := arr.Snapshot()
		Expect(snap.Multiplicity(value.UintTuple(1))).To(BeNumerically(">", 0))
		Expect(snap.Multiplicity(value.UintTuple(2))).To(BeNumerically(">", 0))
	})

	It("shares the arrangement and survives a sharer's retraction", func() {
		tcArr, ok := mgr.GetArrangement("tc")
		Expect(ok).To(BeTrue())
		Expect(tcArr.Refcount()).To(Equal(1))

		impID, err := eng.InstallQuery(ctx, importerQuery())
		Expect(err).NotTo(HaveOccurred())
		Expect(tcArr.Refcount()).To(Equal(2))

		// Retract the importer: the publisher keeps the arrangement alive
		// and maintained.
		Expect(eng.RetractQuery(impID)).To(Succeed())
		Expect(edges.Insert(value.UintTuple(3, 4), 3*time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 4*time.Second)).To(Succeed())

		_, ok = mgr.GetArrangement("tc")
		Expect(ok).To(BeTrue())
		Expect(tcArr.Snapshot().Multiplicity(value.UintTuple(1, 4))).To(Equal(1))

		// The importer's own publish lost its only reference and is
		// collected by the step's lazy pass.
		_, ok = mgr.GetArrangement("heads")
		Expect(ok).To(BeFalse())
	})

	It("evaluates reinstalled publishers before their importers", func() {
		_, err := eng.InstallQuery(ctx, importerQuery())
		Expect(err).NotTo(HaveOccurred())

		// Replace the publisher: the new one lands after the importer in
		// install order but must still evaluate first within a step.
		Expect(eng.RetractQuery(tcID)).To(Succeed())
		_, err = eng.InstallQuery(ctx, tcQuery())
		Expect(err).NotTo(HaveOccurred())

		Expect(edges.Insert(value.UintTuple(3, 4), 3*time.Second)).To(Succeed())
		Expect(eng.Step(ctx, 4*time.Second)).To(Succeed())

		heads, ok := mgr.GetArrangement("heads")
		Expect(ok).To(BeTrue())
		Expect(heads.Snapshot().Multiplicity(value.UintTuple(3))).To(BeNumerically(">", 0))
	})

	It("rejects retracting unknown or already-retracted queries", func() {
		var nerr *NotInstalledError
		err := eng.RetractQuery("nope")
		Expect(errors.As(err, &nerr)).To(BeTrue())

		impID, err := eng.InstallQuery(ctx, importerQuery())
		Expect(err).NotTo(HaveOccurred())
		Expect(eng.RetractQuery(impID)).To(Succeed())
		Expect(eng.RetractQuery(impID)).NotTo(Succeed())

		st, ok := eng.Status(impID)
		Expect(ok).To(BeTrue())
		Expect(st).To(Equal(Retracted))
	})
})

var _ = Describe("Command dispatch", func() {
	var mgr *manager.Manager[value.Uint]
	var eng *Engine[value.Uint, uexpr]
	ctx := context.Background()

	BeforeEach(func() {
		mgr = manager.New[value.Uint](logr.Discard())
		_, err := mgr.GetOrCreateInput("edges", 2)
		Expect(err).NotTo(HaveOccurred())
		eng = New[value.Uint, uexpr](mgr, WithWorkers(2))
	})

	It("installs, lists and retracts through the envelope", func() {
		res, err := eng.Do(ctx, tcQuery().IntoCommand())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ID).NotTo(BeEmpty())

		listed, err := eng.Do(ctx, command.Command[value.Uint, uexpr]{List: &command.List{}})
		Expect(err).NotTo(HaveOccurred())
		Expect(listed.Inputs).To(Equal([]string{"edges"}))
		Expect(listed.Arrangements).To(Equal([]string{"tc"}))

		_, err = eng.Do(ctx, command.Command[value.Uint, uexpr]{Retract: &command.Retract{ID: res.ID}})
		Expect(err).NotTo(HaveOccurred())

		st, ok := eng.Status(res.ID)
		Expect(ok).To(BeTrue())
		Expect(st).To(Equal(Retracted))
	})

	It("rejects an empty envelope", func() {
		_, err := eng.Do(ctx, command.Command[value.Uint, uexpr]{})
		Expect(err).To(HaveOccurred())
	})
})
