package command

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"l7mp.io/interactive-engine/pkg/plan"
	"l7mp.io/interactive-engine/pkg/value"
)

func TestCommand(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Command")
}

type uexpr = value.ColRef[value.Uint]

func uread(name string) plan.Plan[value.Uint, uexpr] {
	return plan.Read[value.Uint, uexpr](name)
}

func proj(i int) uexpr { return value.Projection[value.Uint](i) }

var _ = Describe("Query builder", func() {
	It("starts empty", func() {
		q := NewQuery[value.Uint, uexpr]()
		Expect(q.Rules).To(BeEmpty())
		Expect(q.Imports).To(BeEmpty())
		Expect(q.Publish).To(BeEmpty())
	})

	It("appends rules in call order", func() {
		r1 := Rule[value.Uint, uexpr]{Name: "a", Plan: uread("x")}
		r2 := Rule[value.Uint, uexpr]{Name: "b", Plan: uread("y")}

		q := NewQuery[value.Uint, uexpr]().AddRule(r1).AddRule(r2)
		Expect(q.Rules).To(Equal([]Rule[value.Uint, uexpr]{r1, r2}))
	})

	It("appends imports and publishes in call order", func() {
		q := NewQuery[value.Uint, uexpr]().
			AddImport(uread("edges"), []int{0}).
			AddImport(uread("nodes"), []int{0}).
			AddPublish(uread("reach"), []int{0, 1})

		Expect(q.Imports).To(HaveLen(2))
		Expect(q.Imports[0].Plan.Read.Name).To(Equal("edges"))
		Expect(q.Imports[1].Plan.Read.Name).To(Equal("nodes"))
		Expect(q.Publish[0].Keys).To(Equal([]int{0, 1}))
	})

	It("makes a singleton query from a rule", func() {
		r := Rule[value.Uint, uexpr]{Name: "a", Plan: uread("x")}
		q := r.IntoQuery()
		Expect(q.Rules).To(HaveLen(1))
		Expect(q.Rules[0].Name).To(Equal("a"))
	})

	It("treats order as part of identity", func() {
		r1 := Rule[value.Uint, uexpr]{Name: "a", Plan: uread("x")}
		r2 := Rule[value.Uint, uexpr]{Name: "b", Plan: uread("y")}

		q1 := NewQuery[value.Uint, uexpr]().AddRule(r1).AddRule(r2)
		q2 := NewQuery[value.Uint, uexpr]().AddRule(r2).AddRule(r1)
		Expect(q1.Equal(q2)).To(BeFalse())
		Expect(q1.Fingerprint()).NotTo(Equal(q2.Fingerprint()))
	})
})

var _ = Describe("Command codec", func() {
	It("round-trips a query command with full fidelity", func() {
		body := plan.Union(
			uread("edges"),
			plan.Distinct(plan.Project(
				plan.Join(uread("reach"), uread("edges"),
					plan.JoinKey[value.Uint, uexpr]{Left: proj(1), Right: proj(0)}),
				0, 3)))

		q := NewQuery[value.Uint, uexpr]().
			AddRule(Rule[value.Uint, uexpr]{Name: "reach", Plan: body}).
			AddImport(uread("edges"), []int{0}).
			AddPublish(uread("reach"), []int{0})
		cmd := q.IntoCommand()

		b, err := Encode(cmd)
		Expect(err).NotTo(HaveOccurred())

		decoded, err := Decode[value.Uint, uexpr](b)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Equal(cmd)).To(BeTrue())
		Expect(decoded.Fingerprint()).To(Equal(cmd.Fingerprint()))
		Expect(decoded.Query.Equal(q)).To(BeTrue())
	})

	It("round-trips retract and list commands", func() {
		for _, cmd := range []Command[value.Uint, uexpr]{
			{Retract: &Retract{ID: "q-1"}},
			{List: &List{}},
		} {
			b, err := Encode(cmd)
			Expect(err).NotTo(HaveOccurred())
			decoded, err := Decode[value.Uint, uexpr](b)
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.Equal(cmd)).To(BeTrue())
		}
	})

	It("rejects empty envelopes", func() {
		_, err := Encode(Command[value.Uint, uexpr]{})
		Expect(err).To(HaveOccurred())

		_, err = Decode[value.Uint, uexpr]([]byte(`{}`))
		var serr *SerializationError
		Expect(errors.As(err, &serr)).To(BeTrue())
	})

	It("rejects unknown variants", func() {
		_, err := Decode[value.Uint, uexpr]([]byte(`{"shutdown":{}}`))
		Expect(err).To(HaveOccurred())

		var serr *SerializationError
		Expect(errors.As(err, &serr)).To(BeTrue())
	})

	It("rejects malformed payloads", func() {
		_, err := Decode[value.Uint, uexpr]([]byte(`{"query":`))
		Expect(err).To(HaveOccurred())
	})
})
