package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// Selic target rate, % a.a., SGS series 432.
const selicSeriesCode = 432

const bcbEndpoint = "https://www3.bcb.gov.br/sgspub/JSP/sgsgeral/FachadaWSSGS"

// BCBClient fetches the Selic reference rate from the Banco Central do
// Brasil SGS web service. The rate seeds the nominal annual rate of
// proposals created without an explicit one.
type BCBClient struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewBCBClient(logger *logrus.Logger) *BCBClient {
	return &BCBClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func buildSGSRequest(series int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
        <soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
            <soapenv:Body>
                <getUltimoValorXML xmlns="http://DefaultNamespace">
                    <in0>%d</in0>
                </getUltimoValorXML>
            </soapenv:Body>
        </soapenv:Envelope>`, series)
}

func (c *BCBClient) sendRequest(soapRequest string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, bcbEndpoint, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "getUltimoValorXML")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call BCB web service: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read BCB response: %w", err)
	}

	return rawBody, nil
}

func parseSGSResponse(rawBody []byte) (float64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return 0, fmt.Errorf("failed to parse BCB XML: %w", err)
	}

	// getUltimoValorXML returns the series payload as an escaped XML string
	// inside the SOAP body; the <valor> element may appear either directly or
	// inside that nested document.
	valueElement := doc.FindElement("//valor")
	if valueElement == nil {
		returnElement := doc.FindElement("//getUltimoValorXMLReturn")
		if returnElement == nil {
			return 0, errors.New("rate value not found in BCB response")
		}
		nested := etree.NewDocument()
		if err := nested.ReadFromString(returnElement.Text()); err != nil {
			return 0, fmt.Errorf("failed to parse nested BCB payload: %w", err)
		}
		valueElement = nested.FindElement("//valor")
		if valueElement == nil {
			return 0, errors.New("rate value not found in BCB response")
		}
	}

	rawValue := strings.ReplaceAll(strings.TrimSpace(valueElement.Text()), ",", ".")
	rate, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to convert rate value %q: %w", rawValue, err)
	}

	return rate, nil
}

// GetReferenceRate fetches the latest Selic target rate as an annual
// percentage.
func (c *BCBClient) GetReferenceRate() (float64, error) {
	c.logger.Debug("Fetching Selic reference rate from BCB")

	rawBody, err := c.sendRequest(buildSGSRequest(selicSeriesCode))
	if err != nil {
		c.logger.WithError(err).Error("Failed to reach BCB web service")
		return 0, err
	}

	rate, err := parseSGSResponse(rawBody)
	if err != nil {
		c.logger.WithError(err).Error("Failed to parse BCB response")
		return 0, err
	}

	c.logger.WithField("selic_rate", rate).Info("Selic reference rate fetched")
	return rate, nil
}
