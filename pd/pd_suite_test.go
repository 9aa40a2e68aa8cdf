package pd_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestPd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "pd Suite")
}
