package httpchan_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHTTPChan(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "httpchan suite")
}
