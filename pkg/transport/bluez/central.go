package bluez

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/mdoc-protocol/mdoc-go/pkg/transport"
)

// BlueZ D-Bus names.
const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattService  = "org.bluez.GattService1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
)

const (
	// scanPollInterval is how often discovered devices are read from
	// the BlueZ object tree during a scan.
	scanPollInterval = 500 * time.Millisecond

	// servicesResolvedTimeout bounds BlueZ GATT discovery.
	servicesResolvedTimeout = 15 * time.Second

	// servicesResolvedPoll is the ServicesResolved polling interval.
	servicesResolvedPoll = 200 * time.Millisecond
)

// ErrNotConnected indicates a characteristic operation before Connect
// completed.
var ErrNotConnected = errors.New("bluez: not connected")

// Central drives one BLE connection through BlueZ. It implements
// transport.Central; create via NewCentral, one instance per
// connection attempt.
type Central struct {
	adapter string
	conn    *dbus.Conn
	sink    transport.EventSink

	// deliverMu serialises event delivery.
	deliverMu sync.Mutex

	mu          sync.Mutex
	peerAddress string
	devicePath  dbus.ObjectPath
	charPaths   map[uuid.UUID]dbus.ObjectPath
	scanStop    chan struct{}
	sigStop     chan struct{}
	sigCh       chan *dbus.Signal
}

var _ transport.Central = (*Central)(nil)

// NewCentral connects to the system bus. Pass "" for the default
// adapter hci0.
func NewCentral(adapter string) (*Central, error) {
	if adapter == "" {
		adapter = "hci0"
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: failed to connect to system bus: %w", err)
	}
	return &Central{
		adapter:   adapter,
		conn:      conn,
		charPaths: make(map[uuid.UUID]dbus.ObjectPath),
	}, nil
}

// SetEventSink implements transport.Central.
func (c *Central) SetEventSink(sink transport.EventSink) {
	c.sink = sink
}

func (c *Central) deliver(ev transport.Event) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.sink.Deliver(ev)
}

func (c *Central) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + c.adapter)
}

// devicePathFor converts a MAC address to the BlueZ object path, e.g.
// "AA:BB:CC:DD:EE:FF" to "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func (c *Central) devicePathFor(address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s",
		c.adapter, strings.ReplaceAll(address, ":", "_")))
}

// StartScan implements transport.Central. BlueZ has no per-packet
// advertisement callback over D-Bus; discovered devices are polled
// from the managed object tree instead.
func (c *Central) StartScan(onAdv func(transport.Advertisement), onErr func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanStop != nil {
		return errors.New("bluez: scan already running")
	}

	adapter := c.conn.Object(bluezBus, c.adapterPath())

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if call := adapter.Call(bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("bluez: failed to set discovery filter: %w", call.Err)
	}
	if call := adapter.Call(bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("bluez: failed to start discovery: %w", call.Err)
	}

	stop := make(chan struct{})
	c.scanStop = stop

	go func() {
		ticker := time.NewTicker(scanPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				advs, err := c.collectAdvertisements()
				if err != nil {
					onErr(err)
					continue
				}
				for _, adv := range advs {
					onAdv(adv)
				}
			}
		}
	}()
	return nil
}

// StopScan implements transport.Central.
func (c *Central) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanStop == nil {
		return nil
	}
	close(c.scanStop)
	c.scanStop = nil

	adapter := c.conn.Object(bluezBus, c.adapterPath())
	if call := adapter.Call(bluezAdapter1+".StopDiscovery", 0); call.Err != nil {
		return fmt.Errorf("bluez: failed to stop discovery: %w", call.Err)
	}
	return nil
}

// collectAdvertisements reads all known devices under the adapter from
// the BlueZ object tree.
func (c *Central) collectAdvertisements() ([]transport.Advertisement, error) {
	objects, err := c.managedObjects()
	if err != nil {
		return nil, err
	}

	prefix := string(c.adapterPath()) + "/"
	var advs []transport.Advertisement

	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}

		address, ok := propString(props, "Address")
		if !ok {
			continue
		}

		adv := transport.Advertisement{PeerID: address}
		if rssi, ok := props["RSSI"]; ok {
			if v, ok := rssi.Value().(int16); ok {
				adv.RSSI = v
			}
		}
		if uuids, ok := props["UUIDs"]; ok {
			if list, ok := uuids.Value().([]string); ok {
				for _, s := range list {
					if id, err := uuid.Parse(s); err == nil {
						adv.ServiceUUIDs = append(adv.ServiceUUIDs, id)
					}
				}
			}
		}
		advs = append(advs, adv)
	}
	return advs, nil
}

// Connect implements transport.Central.
func (c *Central) Connect(peerID string) error {
	c.mu.Lock()
	c.peerAddress = peerID
	c.devicePath = c.devicePathFor(peerID)
	devicePath := c.devicePath
	c.mu.Unlock()

	if err := c.startSignalLoop(); err != nil {
		return err
	}

	go func() {
		device := c.conn.Object(bluezBus, devicePath)
		if call := device.Call(bluezDevice1+".Connect", 0); call.Err != nil {
			c.deliver(transport.EventFailure{Op: "connect", Err: call.Err})
			return
		}
		c.deliver(transport.EventConnected{})
	}()
	return nil
}

// DiscoverService implements transport.Central. BlueZ resolves the
// full GATT database itself; this waits for ServicesResolved and then
// collects the characteristics under the requested service.
func (c *Central) DiscoverService(service uuid.UUID) error {
	c.mu.Lock()
	devicePath := c.devicePath
	c.mu.Unlock()
	if devicePath == "" {
		return ErrNotConnected
	}

	go func() {
		if err := c.waitServicesResolved(devicePath); err != nil {
			c.deliver(transport.EventFailure{Op: "service discovery", Err: err})
			return
		}

		chars, paths, err := c.collectCharacteristics(devicePath, service)
		if err != nil {
			c.deliver(transport.EventFailure{Op: "service discovery", Err: err})
			return
		}

		c.mu.Lock()
		c.charPaths = paths
		c.mu.Unlock()

		c.deliver(transport.EventServiceDiscovered{Characteristics: chars})
	}()
	return nil
}

func (c *Central) waitServicesResolved(devicePath dbus.ObjectPath) error {
	deadline := time.After(servicesResolvedTimeout)
	ticker := time.NewTicker(servicesResolvedPoll)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("bluez: service discovery timed out after %v", servicesResolvedTimeout)
		case <-ticker.C:
			resolved, err := c.boolProperty(devicePath, bluezDevice1, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

// collectCharacteristics walks the object tree for characteristics
// belonging to the requested service.
func (c *Central) collectCharacteristics(devicePath dbus.ObjectPath, service uuid.UUID) (map[uuid.UUID]bool, map[uuid.UUID]dbus.ObjectPath, error) {
	objects, err := c.managedObjects()
	if err != nil {
		return nil, nil, err
	}

	devicePrefix := string(devicePath) + "/"

	// Locate the service object first; characteristics nest under it.
	var servicePrefix string
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattService]
		if !ok || !strings.HasPrefix(string(path), devicePrefix) {
			continue
		}
		if s, ok := propString(props, "UUID"); ok && strings.EqualFold(s, service.String()) {
			servicePrefix = string(path) + "/"
			break
		}
	}
	if servicePrefix == "" {
		return nil, nil, fmt.Errorf("bluez: service %s not found on peer", service)
	}

	chars := make(map[uuid.UUID]bool)
	paths := make(map[uuid.UUID]dbus.ObjectPath)
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), servicePrefix) {
			continue
		}
		s, ok := propString(props, "UUID")
		if !ok {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		chars[id] = true
		paths[id] = path
	}
	return chars, paths, nil
}

// RequestMTU implements transport.Central. BlueZ performs the ATT MTU
// exchange itself on connect; the negotiated value is read back from
// the device object. The connection's MTU timeout covers the case
// where the property never materialises.
func (c *Central) RequestMTU(mtu uint16) error {
	c.mu.Lock()
	devicePath := c.devicePath
	c.mu.Unlock()
	if devicePath == "" {
		return ErrNotConnected
	}

	go func() {
		deadline := time.After(servicesResolvedTimeout)
		ticker := time.NewTicker(servicesResolvedPoll)
		defer ticker.Stop()

		for {
			select {
			case <-deadline:
				return
			case <-ticker.C:
				variant, err := c.conn.Object(bluezBus, devicePath).GetProperty(bluezDevice1 + ".MTU")
				if err != nil {
					continue
				}
				if v, ok := variant.Value().(uint16); ok && v > 0 {
					c.deliver(transport.EventMTUChanged{MTU: v})
					return
				}
			}
		}
	}()
	return nil
}

// Subscribe implements transport.Central.
func (c *Central) Subscribe(char uuid.UUID) error {
	path, err := c.charPath(char)
	if err != nil {
		return err
	}

	matchRule := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, path,
	)
	if call := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule); call.Err != nil {
		return fmt.Errorf("bluez: failed to add signal match: %w", call.Err)
	}

	go func() {
		obj := c.conn.Object(bluezBus, path)
		if call := obj.Call(bluezGattChar+".StartNotify", 0); call.Err != nil {
			c.deliver(transport.EventFailure{Op: "subscribe", Err: call.Err})
			return
		}
		c.deliver(transport.EventSubscribed{Char: char})
	}()
	return nil
}

// WriteCharacteristic implements transport.Central.
func (c *Central) WriteCharacteristic(char uuid.UUID, value []byte) error {
	path, err := c.charPath(char)
	if err != nil {
		return err
	}

	go func() {
		obj := c.conn.Object(bluezBus, path)
		call := obj.Call(bluezGattChar+".WriteValue", 0, value, map[string]dbus.Variant{
			"type": dbus.MakeVariant("request"),
		})
		if call.Err != nil {
			c.deliver(transport.EventFailure{Op: "write", Err: call.Err})
			return
		}
		c.deliver(transport.EventWriteCompleted{Char: char})
	}()
	return nil
}

// ReadCharacteristic implements transport.Central.
func (c *Central) ReadCharacteristic(char uuid.UUID) error {
	path, err := c.charPath(char)
	if err != nil {
		return err
	}

	go func() {
		obj := c.conn.Object(bluezBus, path)
		call := obj.Call(bluezGattChar+".ReadValue", 0, map[string]dbus.Variant{})
		if call.Err != nil {
			c.deliver(transport.EventFailure{Op: "read", Err: call.Err})
			return
		}
		var value []byte
		if err := call.Store(&value); err != nil {
			c.deliver(transport.EventFailure{Op: "read", Err: err})
			return
		}
		c.deliver(transport.EventReadCompleted{Char: char, Value: value})
	}()
	return nil
}

// OpenL2CAP implements transport.Central. The channel is opened with a
// raw Bluetooth socket; BlueZ has no client-side channel API.
func (c *Central) OpenL2CAP(psm uint16) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	address := c.peerAddress
	c.mu.Unlock()
	if address == "" {
		return nil, ErrNotConnected
	}
	return openL2CAPChannel(address, psm)
}

// Disconnect implements transport.Central.
func (c *Central) Disconnect() error {
	c.mu.Lock()
	devicePath := c.devicePath
	sigStop := c.sigStop
	c.sigStop = nil
	c.mu.Unlock()

	if sigStop != nil {
		close(sigStop)
	}
	if devicePath == "" {
		return nil
	}

	device := c.conn.Object(bluezBus, devicePath)
	if call := device.Call(bluezDevice1+".Disconnect", 0); call.Err != nil {
		return fmt.Errorf("bluez: disconnect failed: %w", call.Err)
	}
	return nil
}

// startSignalLoop subscribes to PropertiesChanged traffic and routes
// notification values and connection drops into events.
func (c *Central) startSignalLoop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sigStop != nil {
		return nil
	}

	matchRule := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, c.devicePath,
	)
	if call := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule); call.Err != nil {
		return fmt.Errorf("bluez: failed to add signal match: %w", call.Err)
	}

	sigCh := make(chan *dbus.Signal, 64)
	c.conn.Signal(sigCh)
	stop := make(chan struct{})
	c.sigStop = stop
	c.sigCh = sigCh

	go func() {
		for {
			select {
			case <-stop:
				c.conn.RemoveSignal(sigCh)
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				c.handleSignal(sig)
			}
		}
	}()
	return nil
}

func (c *Central) handleSignal(sig *dbus.Signal) {
	if sig.Name != dbusProperties+".PropertiesChanged" || len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	c.mu.Lock()
	devicePath := c.devicePath
	var char uuid.UUID
	var isChar bool
	for id, path := range c.charPaths {
		if path == sig.Path {
			char = id
			isChar = true
			break
		}
	}
	c.mu.Unlock()

	if isChar {
		if v, ok := changed["Value"]; ok {
			if value, ok := v.Value().([]byte); ok {
				c.deliver(transport.EventNotification{Char: char, Value: value})
			}
		}
		return
	}

	if sig.Path == devicePath {
		if v, ok := changed["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok && !connected {
				c.deliver(transport.EventDisconnected{})
			}
		}
	}
}

func (c *Central) charPath(char uuid.UUID) (dbus.ObjectPath, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.charPaths[char]
	if !ok {
		return "", fmt.Errorf("%w: characteristic %s", transport.ErrMissingCharacteristic, char)
	}
	return path, nil
}

func (c *Central) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := c.conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("bluez: failed to parse managed objects: %w", err)
	}
	return objects, nil
}

func (c *Central) boolProperty(path dbus.ObjectPath, iface, property string) (bool, error) {
	variant, err := c.conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return false, err
	}
	v, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: property %s.%s has type %T", iface, property, variant.Value())
	}
	return v, nil
}

func propString(props map[string]dbus.Variant, key string) (string, bool) {
	variant, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := variant.Value().(string)
	return s, ok
}
