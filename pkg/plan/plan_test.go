package plan

import (
	"encoding/json"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"l7mp.io/interactive-engine/pkg/value"
)

func TestPlan(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Plan")
}

type uplan = Plan[value.Uint, value.ColRef[value.Uint]]

func proj(i int) value.ColRef[value.Uint] { return value.Projection[value.Uint](i) }

func uread(name string) uplan { return Read[value.Uint, value.ColRef[value.Uint]](name) }

func fixedArities(arities map[string]int) Resolver {
	return func(name string) (int, bool) {
		a, ok := arities[name]
		return a, ok
	}
}

var _ = Describe("Plan construction", func() {
	It("tags each variant", func() {
		p := uread("edges")
		Expect(p.Kind()).To(Equal("read"))

		d := Derive(p, proj(1), proj(0))
		Expect(d.Kind()).To(Equal("derive"))

		j := Join(p, d, JoinKey[value.Uint, value.ColRef[value.Uint]]{Left: proj(0), Right: proj(0)})
		Expect(j.Kind()).To(Equal("join"))

		Expect(Union(p, d).Kind()).To(Equal("union"))
		Expect(Difference(p, d).Kind()).To(Equal("difference"))
		Expect(Distinct(p).Kind()).To(Equal("distinct"))
		Expect(Iterate("reach", p).Kind()).To(Equal("iterate"))
	})

	It("rejects empty plans during validation", func() {
		var p uplan
		_, err := p.Arity(fixedArities(nil))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Arity inference", func() {
	resolve := fixedArities(map[string]int{"edges": 2, "nodes": 1})

	It("takes read arity from the resolver", func() {
		p := uread("edges")
		Expect(p.Arity(resolve)).To(Equal(2))
	})

	It("fails on unresolved names", func() {
		p := uread("missing")
		_, err := p.Arity(resolve)
		Expect(err).To(HaveOccurred())

		var verr *ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
	})

	It("computes derive arity from the expression list", func() {
		p := Derive(uread("edges"), proj(1), proj(0), proj(1))
		Expect(p.Arity(resolve)).To(Equal(3))
	})

	It("rejects derive expressions past the input arity", func() {
		p := Derive(uread("nodes"), proj(1))
		_, err := p.Arity(resolve)
		Expect(err).To(HaveOccurred())

		var oob *value.OutOfBoundsError
		Expect(errors.As(err, &oob)).To(BeTrue())
	})

	It("concatenates join arities and checks both key sides", func() {
		j := Join(uread("edges"), uread("nodes"),
			JoinKey[value.Uint, value.ColRef[value.Uint]]{Left: proj(1), Right: proj(0)})
		Expect(j.Arity(resolve)).To(Equal(3))

		bad := Join(uread("edges"), uread("nodes"),
			JoinKey[value.Uint, value.ColRef[value.Uint]]{Left: proj(0), Right: proj(1)})
		_, err := bad.Arity(resolve)
		Expect(err).To(HaveOccurred())
	})

	It("requires matching arities for union and difference", func() {
		_, err := Union(uread("edges"), uread("nodes")).Arity(resolve)
		Expect(err).To(HaveOccurred())

		Expect(Union(uread("edges"), uread("edges")).Arity(resolve)).To(Equal(2))
		Expect(Difference(uread("nodes"), uread("nodes")).Arity(resolve)).To(Equal(1))
	})

	It("infers iterate arity through the loop variable", func() {
		// reach = edges ∪ distinct(project[0,3](reach ⋈ edges on reach[1]=edges[0]))
		body := Union(
			uread("edges"),
			Distinct(Project(
				Join(uread("reach"), uread("edges"),
					JoinKey[value.Uint, value.ColRef[value.Uint]]{Left: proj(1), Right: proj(0)}),
				0, 3)))
		p := Iterate("reach", body)
		Expect(p.Arity(resolve)).To(Equal(2))
	})
})

var _ = Describe("References", func() {
	It("lists read names once, in first appearance order", func() {
		p := Union(uread("a"), Join(uread("b"), uread("a"), JoinKey[value.Uint, value.ColRef[value.Uint]]{Left: proj(0), Right: proj(0)}))
		Expect(p.References()).To(Equal([]string{"a", "b"}))
	})

	It("excludes iterate-bound names", func() {
		p := Iterate("loop", Union(uread("loop"), uread("base")))
		Expect(p.References()).To(Equal([]string{"base"}))
	})
})

var _ = Describe("Serialization", func() {
	It("round-trips plans with equality", func() {
		p := Iterate("reach", Union(
			uread("edges"),
			Distinct(Project(
				Join(uread("reach"), uread("edges"),
					JoinKey[value.Uint, value.ColRef[value.Uint]]{Left: proj(1), Right: proj(0)}),
				0, 3))))

		b, err := json.Marshal(p)
		Expect(err).NotTo(HaveOccurred())

		var decoded uplan
		Expect(json.Unmarshal(b, &decoded)).To(Succeed())
		Expect(decoded.Equal(p)).To(BeTrue())
		Expect(decoded.Fingerprint()).To(Equal(p.Fingerprint()))
	})

	It("distinguishes different plans by fingerprint", func() {
		a := Project(uread("edges"), 0)
		b := Project(uread("edges"), 1)
		Expect(a.Fingerprint()).NotTo(Equal(b.Fingerprint()))
	})

	It("deep-copies without sharing", func() {
		p := Project(uread("edges"), 0, 1)
		c := p.DeepCopy()
		Expect(c.Equal(p)).To(BeTrue())

		c.Derive.Exprs[0] = proj(7)
		Expect(c.Equal(p)).To(BeFalse())
		Expect(p.Derive.Exprs[0]).To(Equal(proj(0)))
	})
})
