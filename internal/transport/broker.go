// Package transport, broker variant: §4.4 Variant B. The control path
// is a broker-style protocol (CONNECT/PUBLISH/SUBSCRIBE/PINGREQ/
// DISCONNECT); audio travels over a companion datagram channel framed
// with a 16-byte header and AES-CTR encrypted. Packet encode/decode for
// the control path is grounded on github.com/eclipse/paho.mqtt.golang's
// wire-format package, reused here for its CONNECT/CONNACK/PUBLISH
// structs rather than its client-side connection logic (this transport
// plays the broker side, not the client side).
package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// datagramHeaderLen is the fixed header prepended to every encrypted
// audio datagram: type(1) + reserved(1) + payload-len(2) + seq(4) +
// ts(4) + payload-len(4), per §4.4 Variant B.
const datagramHeaderLen = 16

// AudioEndpoint carries the (server, port, encryption, key, nonce)
// tuple negotiated inside the "hello" control message reply.
type AudioEndpoint struct {
	Server     string
	Port       int
	Encryption string
	Key        []byte
	Nonce      []byte
}

// Broker is Transport Variant B.
type Broker struct {
	conn      net.Conn
	ClientID  string
	GroupID   string
	DeviceID  string
	keepAlive time.Duration

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool

	frames chan Frame

	udpConn    *net.UDPConn
	remoteAddr *net.UDPAddr
	block      cipher.Block
	nonce      []byte
	seq        uint32

	lastActivity time.Time
	activityMu   sync.Mutex
}

// ParseClientID splits the CONNECT client id of shape
// "group@@@MAC@@@uuid" into (group, deviceID), converting '_' to ':' in
// the MAC field per §4.4.
func ParseClientID(clientID string) (group, deviceID string, ok bool) {
	parts := strings.Split(clientID, "@@@")
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0], strings.ReplaceAll(parts[1], "_", ":"), true
}

// AcceptBroker reads the CONNECT packet from conn, invokes authenticate
// with the parsed device id and password (token), and writes a CONNACK
// accordingly. On success it starts the background read loop and
// returns a ready Broker; udpConn is the shared datagram socket the
// caller listens on for all sessions (datagrams are demultiplexed by
// remote address after SetAudioEndpoint binds one).
func AcceptBroker(conn net.Conn, udpConn *net.UDPConn, authenticate func(deviceID, clientID, password string) error) (*Broker, error) {
	cp, err := packets.ReadPacket(conn)
	if err != nil {
		return nil, fmt.Errorf("read connect: %w", err)
	}
	connect, ok := cp.(*packets.ConnectPacket)
	if !ok {
		return nil, fmt.Errorf("expected CONNECT, got %T", cp)
	}

	group, deviceID, ok := ParseClientID(connect.ClientIdentifier)
	if !ok {
		deviceID = connect.Username
	}

	authErr := authenticate(deviceID, connect.ClientIdentifier, string(connect.Password))

	ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	if authErr != nil {
		ack.ReturnCode = 1
	} else {
		ack.ReturnCode = 0
	}
	if err := ack.Write(conn); err != nil {
		return nil, fmt.Errorf("write connack: %w", err)
	}
	if authErr != nil {
		conn.Close()
		return nil, authErr
	}

	b := &Broker{
		conn:         conn,
		ClientID:     connect.ClientIdentifier,
		GroupID:      group,
		DeviceID:     deviceID,
		keepAlive:    time.Duration(connect.Keepalive) * time.Second,
		frames:       make(chan Frame, 32),
		udpConn:      udpConn,
		lastActivity: time.Now(),
	}
	go b.readLoop()
	if b.keepAlive > 0 {
		go b.keepAliveLoop()
	}
	return b, nil
}

func (b *Broker) touch() {
	b.activityMu.Lock()
	b.lastActivity = time.Now()
	b.activityMu.Unlock()
}

func (b *Broker) idleSince() time.Duration {
	b.activityMu.Lock()
	defer b.activityMu.Unlock()
	return time.Since(b.lastActivity)
}

// keepAliveLoop closes the connection if no activity arrives within
// 1.5x the negotiated keep-alive interval, per §4.4/§5.
func (b *Broker) keepAliveLoop() {
	limit := time.Duration(float64(b.keepAlive) * 1.5)
	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()
	for range ticker.C {
		if !b.IsConnected() {
			return
		}
		if b.idleSince() > limit {
			b.Close()
			return
		}
	}
}

func (b *Broker) readLoop() {
	defer close(b.frames)
	for {
		pk, err := packets.ReadPacket(b.conn)
		if err != nil {
			return
		}
		b.touch()
		switch p := pk.(type) {
		case *packets.PublishPacket:
			b.frames <- Frame{Kind: TextFrame, Text: string(p.Payload)}
		case *packets.PingreqPacket:
			pong := packets.NewControlPacket(packets.Pingresp).(*packets.PingrespPacket)
			b.writeMu.Lock()
			pong.Write(b.conn)
			b.writeMu.Unlock()
		case *packets.DisconnectPacket:
			b.Close()
			return
		}
	}
}

// SendText publishes a JSON control message as a PUBLISH packet.
func (b *Broker) SendText(s string) error {
	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.Payload = []byte(s)
	pub.TopicName = "device/" + b.DeviceID
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return pub.Write(b.conn)
}

// SetAudioEndpoint installs the AES-CTR key/nonce and remote datagram
// address negotiated by the "hello" reply, enabling SendBinary.
func (b *Broker) SetAudioEndpoint(key, nonce []byte, remote *net.UDPAddr) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("audio endpoint cipher: %w", err)
	}
	b.block = block
	b.nonce = nonce
	b.remoteAddr = remote
	return nil
}

// SendBinary wraps payload in the 16-byte datagram header (type,
// reserved, payload-len, monotonically increasing seq, pacing-derived
// timestamp modulo 2^32, payload-len again) and writes it AES-CTR
// encrypted to the datagram socket, per §4.4/§4.9.
func (b *Broker) SendBinary(payload []byte) error {
	if b.block == nil || b.remoteAddr == nil {
		return fmt.Errorf("transport: audio endpoint not negotiated")
	}

	seq := b.nextSeq()
	ts := uint32(time.Now().UnixMilli() % (1 << 32))

	header := make([]byte, datagramHeaderLen)
	header[0] = 0x01 // type: audio
	header[1] = 0x00 // reserved
	binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], seq)
	binary.BigEndian.PutUint32(header[8:12], ts)
	binary.BigEndian.PutUint32(header[12:16], uint32(len(payload)))

	ctrIV := make([]byte, aes.BlockSize)
	copy(ctrIV, b.nonce)
	binary.BigEndian.PutUint32(ctrIV[aes.BlockSize-4:], seq)

	encrypted := make([]byte, len(payload))
	cipher.NewCTR(b.block, ctrIV).XORKeyStream(encrypted, payload)

	datagram := append(header, encrypted...)
	_, err := b.udpConn.WriteToUDP(datagram, b.remoteAddr)
	return err
}

func (b *Broker) nextSeq() uint32 {
	b.seq++
	return b.seq
}

// Receive returns the channel of inbound control-path text frames.
func (b *Broker) Receive() <-chan Frame {
	return b.frames
}

// Close is idempotent. It closes the control connection without
// sending a DISCONNECT packet.
func (b *Broker) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.Close()
}

// IsConnected reports whether Close has not yet been called.
func (b *Broker) IsConnected() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	return !b.closed
}

var _ Transport = (*Broker)(nil)
