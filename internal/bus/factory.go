// internal/bus/factory.go
package bus

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
)

// CreateBus creates a bus based on connection type and configuration
func CreateBus(connectionType model.ConnectionType, config map[string]interface{}, logger *zap.Logger) (Bus, error) {
	switch connectionType {
	case model.ConnectionTypeSerial:
		return createSerialBus(config, logger)
	case model.ConnectionTypeUSB:
		return createUSBBus(config, logger)
	case model.ConnectionTypeTCP:
		return createTCPBus(config, logger)
	default:
		return nil, fmt.Errorf("unsupported connection type: %s", connectionType)
	}
}

// createSerialBus creates a serial bus
func createSerialBus(config map[string]interface{}, logger *zap.Logger) (Bus, error) {
	settings := &SerialSettings{
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
		Timeout:  1 * time.Second,
	}

	// Parse port
	if port, ok := config["port"].(string); ok {
		settings.Port = port
	} else {
		return nil, fmt.Errorf("serial port is required")
	}

	// Parse baud rate
	if baudRate, ok := config["baud_rate"]; ok {
		switch v := baudRate.(type) {
		case float64:
			settings.BaudRate = int(v)
		case int:
			settings.BaudRate = v
		}
	}

	// Parse data bits
	if dataBits, ok := config["data_bits"]; ok {
		switch v := dataBits.(type) {
		case float64:
			settings.DataBits = int(v)
		case int:
			settings.DataBits = v
		}
	}

	// Parse stop bits
	if stopBits, ok := config["stop_bits"]; ok {
		switch v := stopBits.(type) {
		case float64:
			settings.StopBits = int(v)
		case int:
			settings.StopBits = v
		}
	}

	// Parse parity
	if parity, ok := config["parity"].(string); ok {
		settings.Parity = parity
	}

	// Parse timeout
	if timeout, ok := config["timeout"].(string); ok {
		if dur, err := time.ParseDuration(timeout); err == nil {
			settings.Timeout = dur
		}
	}

	logger.Info("Creating serial bus",
		zap.String("port", settings.Port),
		zap.Int("baud_rate", settings.BaudRate),
	)

	return NewSerialBus(settings, logger), nil
}

// createUSBBus creates a USB bus
func createUSBBus(config map[string]interface{}, logger *zap.Logger) (Bus, error) {
	settings := &USBSettings{
		Endpoint: 1,
		Timeout:  1 * time.Second,
	}

	// Parse vendor ID
	if vendorID, ok := config["vendor_id"].(string); ok {
		settings.VendorID = vendorID
	} else {
		return nil, fmt.Errorf("USB vendor_id is required")
	}

	// Parse product ID
	if productID, ok := config["product_id"].(string); ok {
		settings.ProductID = productID
	} else {
		return nil, fmt.Errorf("USB product_id is required")
	}

	// Parse endpoint
	if endpoint, ok := config["endpoint"]; ok {
		switch v := endpoint.(type) {
		case float64:
			settings.Endpoint = int(v)
		case int:
			settings.Endpoint = v
		}
	}

	// Parse timeout
	if timeout, ok := config["timeout"].(string); ok {
		if dur, err := time.ParseDuration(timeout); err == nil {
			settings.Timeout = dur
		}
	}

	logger.Info("Creating USB bus",
		zap.String("vendor_id", settings.VendorID),
		zap.String("product_id", settings.ProductID),
	)

	return NewUSBBus(settings, logger), nil
}

// createTCPBus creates a TCP bus
func createTCPBus(config map[string]interface{}, logger *zap.Logger) (Bus, error) {
	settings := &TCPSettings{
		Port:    4000, // Default Prologix/LAN instrument port
		Timeout: 1 * time.Second,
	}

	// Parse host
	if host, ok := config["host"].(string); ok {
		settings.Host = host
	} else {
		return nil, fmt.Errorf("TCP host is required")
	}

	// Parse port
	if port, ok := config["port"]; ok {
		switch v := port.(type) {
		case float64:
			settings.Port = int(v)
		case int:
			settings.Port = v
		}
	}

	// Parse timeout
	if timeout, ok := config["timeout"].(string); ok {
		if dur, err := time.ParseDuration(timeout); err == nil {
			settings.Timeout = dur
		}
	}

	logger.Info("Creating TCP bus",
		zap.String("host", settings.Host),
		zap.Int("port", settings.Port),
	)

	return NewTCPBus(settings, logger), nil
}

// ValidateConfig validates configuration for a specific connection type
func ValidateConfig(connectionType model.ConnectionType, config map[string]interface{}) error {
	switch connectionType {
	case model.ConnectionTypeSerial:
		return validateSerialConfig(config)
	case model.ConnectionTypeUSB:
		return validateUSBConfig(config)
	case model.ConnectionTypeTCP:
		return validateTCPConfig(config)
	default:
		return fmt.Errorf("unsupported connection type: %s", connectionType)
	}
}

// validateSerialConfig validates serial configuration
func validateSerialConfig(config map[string]interface{}) error {
	if _, ok := config["port"].(string); !ok {
		return fmt.Errorf("serial port is required")
	}

	if baudRate, ok := config["baud_rate"]; ok {
		var rate int
		switch v := baudRate.(type) {
		case float64:
			rate = int(v)
		case int:
			rate = v
		default:
			return fmt.Errorf("invalid baud_rate type")
		}

		validRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}
		valid := false
		for _, validRate := range validRates {
			if rate == validRate {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid baud rate: %d", rate)
		}
	}

	return nil
}

// validateUSBConfig validates USB configuration
func validateUSBConfig(config map[string]interface{}) error {
	if _, ok := config["vendor_id"].(string); !ok {
		return fmt.Errorf("USB vendor_id is required")
	}

	if _, ok := config["product_id"].(string); !ok {
		return fmt.Errorf("USB product_id is required")
	}

	return nil
}

// validateTCPConfig validates TCP configuration
func validateTCPConfig(config map[string]interface{}) error {
	if _, ok := config["host"].(string); !ok {
		return fmt.Errorf("TCP host is required")
	}

	if port, ok := config["port"]; ok {
		var portNum int
		switch v := port.(type) {
		case float64:
			portNum = int(v)
		case int:
			portNum = v
		default:
			return fmt.Errorf("invalid port type")
		}

		if portNum < 1 || portNum > 65535 {
			return fmt.Errorf("invalid port number: %d", portNum)
		}
	}

	return nil
}
