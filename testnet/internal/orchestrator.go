package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opd-ai/p2pharness/harness"
	"github.com/opd-ai/p2pharness/metrics"
	"github.com/opd-ai/p2pharness/netsim"
	"github.com/opd-ai/p2pharness/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// TestOrchestrator manages the complete scenario execution workflow.
type TestOrchestrator struct {
	config    *TestConfig
	logger    *logrus.Logger
	logFile   *os.File
	startTime time.Time
	results   *TestResults
	clock     Clock
	registry  *prometheus.Registry
	collector *metrics.Collector
}

// TestConfig holds configuration for one scenario run.
type TestConfig struct {
	// Scenario configuration. Scenario takes precedence over ScenarioFile;
	// with neither set the default mesh runs.
	ScenarioFile string
	Scenario     *Scenario

	// Network configuration
	Subnet           string
	Port             uint16
	Barrier          bool
	MissingAddress   string
	HandshakeTimeout time.Duration

	// Timeout configuration
	OverallTimeout time.Duration
	WaitTimeout    time.Duration

	// Logging configuration
	LogLevel      string
	LogFormat     string
	LogFile       string
	VerboseOutput bool

	// Metrics configuration
	CollectMetrics bool
	MetricsFile    string
}

// TestResults holds the outcomes of test execution.
type TestResults struct {
	ScenarioName  string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	SkippedTests  int
	ExecutionTime time.Duration
	TestSteps     []TestStepResult
	FinalStatus   TestStatus
	ErrorDetails  string
}

// TestStepResult represents the result of an individual test step.
type TestStepResult struct {
	StepName      string
	Status        TestStatus
	ExecutionTime time.Duration
	ErrorMessage  string
	Metrics       map[string]interface{}
}

// TestStatus represents the status of a test or test step.
type TestStatus int

const (
	TestStatusPending TestStatus = iota
	TestStatusRunning
	TestStatusPassed
	TestStatusFailed
	TestStatusSkipped
	TestStatusTimeout
)

// String returns a string representation of the test status.
func (ts TestStatus) String() string {
	switch ts {
	case TestStatusPending:
		return "PENDING"
	case TestStatusRunning:
		return "RUNNING"
	case TestStatusPassed:
		return "PASSED"
	case TestStatusFailed:
		return "FAILED"
	case TestStatusSkipped:
		return "SKIPPED"
	case TestStatusTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// DefaultTestConfig returns a default configuration for a scenario run.
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		Subnet:           netsim.DefaultSubnet,
		Port:             peer.DefaultPort,
		Barrier:          true,
		MissingAddress:   harness.SkipMissing.String(),
		HandshakeTimeout: 5 * time.Second,
		OverallTimeout:   5 * time.Minute,
		WaitTimeout:      30 * time.Second,
		LogLevel:         "INFO",
		LogFormat:        "text",
		LogFile:          "",
		VerboseOutput:    true,
		CollectMetrics:   true,
	}
}

// NewTestOrchestrator creates a new test orchestrator.
func NewTestOrchestrator(config *TestConfig) (*TestOrchestrator, error) {
	if config == nil {
		config = DefaultTestConfig()
	}

	logger, err := newLogger(config)
	if err != nil {
		return nil, err
	}

	to := &TestOrchestrator{
		config: config,
		logger: logger,
		clock:  clockOrSystem(nil),
		results: &TestResults{
			TestSteps:   make([]TestStepResult, 0),
			FinalStatus: TestStatusPending,
		},
	}

	if config.LogFile != "" {
		logFile, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		to.logFile = logFile
		logger.SetOutput(logFile)
	}

	if config.CollectMetrics {
		to.registry = prometheus.NewRegistry()
		to.collector = metrics.NewCollector(to.registry)
	}

	return to, nil
}

// newLogger builds the run logger from the configured level and format.
func newLogger(config *TestConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level := config.LogLevel
	if level == "" {
		level = "INFO"
	}
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.LogLevel, err)
	}
	logger.SetLevel(parsed)

	switch strings.ToLower(config.LogFormat) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", config.LogFormat)
	}

	return logger, nil
}

// Cleanup releases resources held by the orchestrator.
func (to *TestOrchestrator) Cleanup() error {
	if to.logFile != nil {
		err := to.logFile.Close()
		to.logFile = nil
		return err
	}
	return nil
}

// SetClock sets the time source used for step and run durations. A nil
// clock restores the wall clock.
func (to *TestOrchestrator) SetClock(c Clock) {
	to.clock = clockOrSystem(c)
}

// Logger returns the orchestrator's logger, so callers can route other
// packages' logs to the same destination.
func (to *TestOrchestrator) Logger() *logrus.Logger {
	return to.logger
}

// RunTests loads, builds, runs and verifies the configured scenario.
func (to *TestOrchestrator) RunTests(ctx context.Context) (*TestResults, error) {
	to.startTime = to.clock.Now()
	to.results.FinalStatus = TestStatusRunning

	to.logger.Info("🧪 P2P Harness Scenario Runner")
	to.logger.Info("==============================")
	to.logger.Infof("⏰ Test execution started at %s", to.startTime.Format(time.RFC3339))

	if to.config.VerboseOutput {
		to.logConfiguration()
	}

	testCtx, cancel := context.WithTimeout(ctx, to.config.OverallTimeout)
	defer cancel()

	err := to.executeTestWorkflow(testCtx)

	to.results.ExecutionTime = elapsed(to.clock, to.startTime)

	switch {
	case err == nil:
		to.results.FinalStatus = TestStatusPassed
		to.results.PassedTests = 1
	case errors.Is(testCtx.Err(), context.DeadlineExceeded), errors.Is(err, harness.ErrWaitTimeout):
		to.results.FinalStatus = TestStatusTimeout
		to.results.ErrorDetails = err.Error()
		to.results.FailedTests = 1
	default:
		to.results.FinalStatus = TestStatusFailed
		to.results.ErrorDetails = err.Error()
		to.results.FailedTests = 1
	}
	to.results.TotalTests = 1

	if metricsErr := to.writeMetrics(); metricsErr != nil {
		to.logger.WithError(metricsErr).Warn("⚠️  Could not write metrics file")
	}

	to.generateFinalReport()

	return to.results, err
}

// executeTestWorkflow runs the scenario steps in order, stopping at the
// first failure. Later steps are recorded as skipped.
func (to *TestOrchestrator) executeTestWorkflow(ctx context.Context) error {
	var (
		scenario *Scenario
		network  *harness.Network[peer.Kind]
		results  harness.Results[[]byte]
	)

	steps := []struct {
		name string
		run  func(step *TestStepResult) error
	}{
		{"Load scenario", func(step *TestStepResult) error {
			var err error
			scenario, err = to.loadScenario()
			if err == nil {
				to.results.ScenarioName = scenario.Name
				step.Metrics["nodes"] = len(scenario.Nodes)
			}
			return err
		}},
		{"Build plan", func(step *TestStepResult) error {
			var err error
			network, err = scenario.Build()
			if err == nil {
				step.Metrics["nodes"] = network.Len()
				step.Metrics["edges"] = len(network.Edges())
			}
			return err
		}},
		{"Run network", func(step *TestStepResult) error {
			var err error
			results, err = to.runNetwork(ctx, scenario, network, step)
			return err
		}},
		{"Verify results", func(step *TestStepResult) error {
			step.Metrics["expectations"] = len(scenario.Expect)
			return scenario.Verify(results)
		}},
	}

	for i, s := range steps {
		if err := to.executeWithStepTracking(s.name, s.run); err != nil {
			for _, rest := range steps[i+1:] {
				to.results.TestSteps = append(to.results.TestSteps, TestStepResult{
					StepName: rest.name,
					Status:   TestStatusSkipped,
				})
			}
			return err
		}
	}
	return nil
}

func (to *TestOrchestrator) loadScenario() (*Scenario, error) {
	switch {
	case to.config.Scenario != nil:
		return to.config.Scenario, to.config.Scenario.Validate()
	case to.config.ScenarioFile != "":
		return LoadScenario(to.config.ScenarioFile)
	default:
		return DefaultScenario(), nil
	}
}

// runNetwork starts every node of the network on a fresh fabric.
func (to *TestOrchestrator) runNetwork(ctx context.Context, scenario *Scenario, network *harness.Network[peer.Kind], step *TestStepResult) (harness.Results[[]byte], error) {
	fabric, err := netsim.NewFabric(netsim.FabricConfig{Subnet: to.config.Subnet})
	if err != nil {
		return nil, err
	}
	defer fabric.Close()

	config, err := to.harnessConfig(fabric)
	if err != nil {
		return nil, err
	}

	peerConfig := peer.DefaultConfig()
	peerConfig.Port = to.config.Port
	peerConfig.Payload = scenario.Payload
	peerConfig.HandshakeTimeout = to.config.HandshakeTimeout

	results, err := harness.Start(ctx, network, peer.Factory(network, peerConfig), config)

	for k, v := range fabric.Stats() {
		step.Metrics[k] = v
	}
	return results, err
}

func (to *TestOrchestrator) harnessConfig(fabric *netsim.Fabric) (*harness.Config, error) {
	policy, err := harness.ParseMissingAddressPolicy(to.config.MissingAddress)
	if err != nil {
		return nil, err
	}

	config := harness.DefaultConfig()
	config.Fabric = fabric
	config.MissingAddress = policy
	config.WaitTimeout = to.config.WaitTimeout
	config.Logger = logrus.NewEntry(to.logger)
	if !to.config.Barrier {
		config.Barrier = harness.NoBarrier
	}
	if to.collector != nil {
		config.Observers = append(config.Observers, to.collector)
	}
	return config, nil
}

// executeWithStepTracking executes a test step with result tracking.
func (to *TestOrchestrator) executeWithStepTracking(stepName string, operation func(step *TestStepResult) error) error {
	stepStart := to.clock.Now()

	to.logger.Infof("🎯 Executing: %s", stepName)

	stepResult := TestStepResult{
		StepName: stepName,
		Status:   TestStatusRunning,
		Metrics:  make(map[string]interface{}),
	}

	err := operation(&stepResult)

	stepResult.ExecutionTime = elapsed(to.clock, stepStart)

	if err != nil {
		stepResult.Status = TestStatusFailed
		stepResult.ErrorMessage = err.Error()
		to.logger.Errorf("❌ %s failed: %v", stepName, err)
	} else {
		stepResult.Status = TestStatusPassed
		to.logger.Infof("✅ %s completed in %v", stepName, stepResult.ExecutionTime)
	}

	to.results.TestSteps = append(to.results.TestSteps, stepResult)
	return err
}

func (to *TestOrchestrator) writeMetrics() error {
	if to.registry == nil || to.config.MetricsFile == "" {
		return nil
	}
	return metrics.WriteTextfile(to.config.MetricsFile, to.registry)
}

// logConfiguration prints the current test configuration.
func (to *TestOrchestrator) logConfiguration() {
	scenario := to.config.ScenarioFile
	if scenario == "" {
		scenario = "(built-in mesh)"
	}
	to.logger.Info("📋 Test Configuration:")
	to.logger.Infof("   Scenario: %s", scenario)
	to.logger.Infof("   Subnet: %s", to.config.Subnet)
	to.logger.Infof("   Port: %d", to.config.Port)
	to.logger.Infof("   Readiness barrier: %v", to.config.Barrier)
	to.logger.Infof("   Missing addresses: %s", to.config.MissingAddress)
	to.logger.Infof("   Overall timeout: %v", to.config.OverallTimeout)
	to.logger.Infof("   Wait timeout: %v", to.config.WaitTimeout)
	to.logger.Infof("   Handshake timeout: %v", to.config.HandshakeTimeout)
	to.logger.Infof("   Metrics collection: %v", to.config.CollectMetrics)
}

// generateFinalReport creates and logs the final test report.
func (to *TestOrchestrator) generateFinalReport() {
	to.logReportHeader()
	to.logOverallResults()
	to.logStepDetails()
	to.logErrorDetails()
	to.logFinalStatus()
	to.logReportFooter()
}

func (to *TestOrchestrator) logReportHeader() {
	to.logger.Info("📊 Test Execution Summary")
	to.logger.Info("========================")
}

func (to *TestOrchestrator) logOverallResults() {
	to.logger.Infof("🎯 Overall Status: %s", to.results.FinalStatus)
	to.logger.Infof("⏱️  Total Execution Time: %v", to.results.ExecutionTime)
	to.logger.Infof("📈 Tests: %d total, %d passed, %d failed, %d skipped",
		to.results.TotalTests, to.results.PassedTests, to.results.FailedTests, to.results.SkippedTests)
}

// logStepDetails prints detailed information about each test step.
func (to *TestOrchestrator) logStepDetails() {
	if len(to.results.TestSteps) == 0 {
		return
	}

	to.logger.Info("📋 Step Details:")
	for _, step := range to.results.TestSteps {
		statusIcon := to.getStatusIcon(step.Status)
		to.logger.Infof("   %s %s (%v)", statusIcon, step.StepName, step.ExecutionTime)

		if step.ErrorMessage != "" {
			to.logger.Infof("      Error: %s", step.ErrorMessage)
		}
	}
}

// getStatusIcon returns the appropriate icon for a test status.
func (to *TestOrchestrator) getStatusIcon(status TestStatus) string {
	switch status {
	case TestStatusFailed:
		return "❌"
	case TestStatusSkipped:
		return "⏭️"
	case TestStatusTimeout:
		return "⏰"
	default:
		return "✅"
	}
}

func (to *TestOrchestrator) logErrorDetails() {
	if to.results.ErrorDetails == "" {
		return
	}

	to.logger.Error("❌ Error Details:")
	to.logger.Errorf("   %s", to.results.ErrorDetails)
}

func (to *TestOrchestrator) logFinalStatus() {
	if to.results.FinalStatus == TestStatusPassed {
		to.logger.Info("🎉 All tests completed successfully!")
		to.logger.Info("✅ Network plan: BUILT")
		to.logger.Info("✅ Nodes: STARTED AND JOINED")
		to.logger.Info("✅ Results: VERIFIED")
		return
	}
	to.logger.Warn("⚠️  Test execution completed with failures")
	to.logger.Warn("   Review the error details above for troubleshooting")
}

func (to *TestOrchestrator) logReportFooter() {
	to.logger.Infof("🏁 Test run completed at %s", to.clock.Now().Format(time.RFC3339))
	to.logger.Info(strings.Repeat("=", 50))
}

// GetResults returns the current test results.
func (to *TestOrchestrator) GetResults() *TestResults {
	return to.results
}

// ValidateConfiguration validates the test configuration.
func (to *TestOrchestrator) ValidateConfiguration() error {
	if to.config.Port == 0 {
		return fmt.Errorf("port cannot be zero")
	}

	if to.config.Subnet == "" {
		return fmt.Errorf("subnet cannot be empty")
	}

	if to.config.OverallTimeout <= 0 {
		return fmt.Errorf("overall timeout must be positive")
	}

	if to.config.WaitTimeout < 0 {
		return fmt.Errorf("wait timeout cannot be negative")
	}

	if to.config.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake timeout cannot be negative")
	}

	if _, err := harness.ParseMissingAddressPolicy(to.config.MissingAddress); err != nil {
		return err
	}

	if to.config.MetricsFile != "" && !to.config.CollectMetrics {
		return fmt.Errorf("metrics file requires metrics collection")
	}

	return nil
}

// SetLogOutput configures the logger output destination.
func (to *TestOrchestrator) SetLogOutput(output io.Writer) {
	to.logger.SetOutput(output)
}

// SetVerbose enables or disables verbose logging.
func (to *TestOrchestrator) SetVerbose(verbose bool) {
	to.config.VerboseOutput = verbose
}
