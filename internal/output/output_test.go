package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"campaignstat/internal/metrics"
	"campaignstat/pkg/models"

	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(id string) *models.CampaignReport {
	return &models.CampaignReport{
		ID: id,
		Campaign: models.CampaignInfo{
			Token: models.TokenInfo{ContractAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC"},
		},
		Summary: models.WalletSummary{Name: "Active Wallets", PreCampaign: 2, DuringCampaign: 3},
	}
}

func TestFileOutput_WritesJSONLines(t *testing.T) {
	out, err := NewFileOutput(t.TempDir(), logrus.New())
	require.NoError(t, err)

	require.NoError(t, out.WriteReport(sampleReport("r1")))
	require.NoError(t, out.WriteReport(sampleReport("r2")))
	require.NoError(t, out.WriteReport(nil))
	path := out.Path()
	require.NoError(t, out.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r models.CampaignReport
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r1", "r2"}, ids)
}

func TestKafkaOutput_SendsReport(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var r models.CampaignReport
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		if r.ID != "r1" || r.Summary.DuringCampaign != 3 {
			return fmt.Errorf("unexpected report: %+v", r)
		}
		return nil
	})

	out := NewKafkaOutputWithProducer(producer, "", logrus.New())
	assert.Equal(t, DefaultTopic, out.topic)
	require.NoError(t, out.WriteReport(sampleReport("r1")))
	require.NoError(t, out.Close())
}

func TestKafkaOutput_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(fmt.Errorf("broker down"))

	out := NewKafkaOutputWithProducer(producer, "reports", logrus.New())
	err := out.WriteReport(sampleReport("r1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	require.NoError(t, out.Close())
}

func TestInstrument_CountsOutcomes(t *testing.T) {
	m := metrics.New()
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndFail(fmt.Errorf("boom"))

	out := Instrument(NewKafkaOutputWithProducer(producer, "reports", logrus.New()), TypeKafka, m)
	assert.NoError(t, out.WriteReport(sampleReport("a")))
	assert.Error(t, out.WriteReport(sampleReport("b")))
	require.NoError(t, out.Close())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedTotal.WithLabelValues(TypeKafka, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedTotal.WithLabelValues(TypeKafka, "error")))
}

func TestNewOutput(t *testing.T) {
	out, err := NewOutput(&Config{Type: TypeNone}, logrus.New(), nil)
	require.NoError(t, err)
	assert.NoError(t, out.WriteReport(sampleReport("x")))
	assert.NoError(t, out.Close())

	out, err = NewOutput(&Config{Type: TypeFile, Directory: t.TempDir()}, logrus.New(), metrics.New())
	require.NoError(t, err)
	assert.NoError(t, out.WriteReport(sampleReport("x")))
	assert.NoError(t, out.Close())

	_, err = NewOutput(&Config{Type: "ftp"}, logrus.New(), nil)
	assert.Error(t, err)

	_, err = NewOutput(&Config{Type: TypeKafka, Kafka: &KafkaConfig{}}, logrus.New(), nil)
	assert.Error(t, err)
}
