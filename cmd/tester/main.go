// Command tester is a dry-run CLI that validates a single image
// reference against a loaded policy and validator configuration and
// prints the resulting digest or error, grounded on the teacher's
// cmd/tester/main.go (a ClusterImagePolicy dry-run CLI) re-purposed
// for this repository's policy.Rule/validator.Registry types.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sse-secure-systems/connaisseur/pkg/config"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/validator"
)

type output struct {
	Image     string   `json:"image"`
	Validator string   `json:"validator,omitempty"`
	Allowed   bool     `json:"allowed"`
	Digests   []string `json:"digests,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to the validator configuration file")
	secretsPath := flag.String("secrets", "", "path to the validator secrets file")
	policyPath := flag.String("policy", "", "path to the image policy file")
	imageRef := flag.String("image", "", "image reference to validate against the policy")
	timeout := flag.Duration("timeout", 30*time.Second, "overall validation deadline")
	flag.Parse()

	if *configPath == "" || *policyPath == "" || *imageRef == "" {
		flag.Usage()
		os.Exit(2)
	}

	specs, err := config.LoadValidators(*configPath, *secretsPath)
	if err != nil {
		log.Fatal(err)
	}
	registry, err := validator.NewRegistry(specs, config.NewHTTPClient())
	if err != nil {
		log.Fatal(err)
	}
	pol, err := config.LoadPolicy(*policyPath)
	if err != nil {
		log.Fatal(err)
	}

	img, err := image.Parse(*imageRef)
	if err != nil {
		log.Fatal(err)
	}

	rule, ok := pol.Match(img.String())
	if !ok {
		printResult(output{Image: img.String(), Error: "no policy rule matches this image"})
		os.Exit(1)
	}

	out := output{Image: img.String(), Validator: rule.ValidatorName()}

	if rule.Denies() {
		out.Error = "static deny"
		printResult(out)
		os.Exit(1)
	}

	v, err := registry.Get(rule.ValidatorName())
	if err != nil {
		out.Error = err.Error()
		printResult(out)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	digests, err := v.Validate(ctx, img, rule)
	if err != nil {
		out.Error = err.Error()
		printResult(out)
		os.Exit(1)
	}

	out.Allowed = true
	out.Digests = digests
	printResult(out)
}

func printResult(o output) {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(b))
}
