package usbip

import (
	"errors"
	"net"
	"sync"

	"github.com/bulwarkid/virtual-usb/util"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

var usbipLogger = util.NewLogger("[USBIP] ", util.LogLevelTrace)
var errLogger = util.NewLogger("[ERR] ", util.LogLevelEnabled)

// Server exports a set of device ports over the usbip protocol so a
// host kernel's vhci driver can attach them.
type Server struct {
	addr      string
	ports     []*Port
	listener  net.Listener
	group     *errgroup.Group
	localOnly bool
}

func NewServer(ports ...*Port) *Server {
	return &Server{
		addr:      ":3240",
		ports:     ports,
		localOnly: true,
	}
}

// SetAddr overrides the default listen address; call before Start.
func (server *Server) SetAddr(addr string) {
	server.addr = addr
}

// AllowRemote disables the localhost-only connection filter.
func (server *Server) AllowRemote() {
	server.localOnly = false
}

// Start begins accepting usbip connections. It returns once the
// listener is bound; connection handling runs in the background until
// Stop.
func (server *Server) Start() error {
	usbipLogger.Println("Starting usbip server...")
	listener, err := net.Listen("tcp", server.addr)
	if err != nil {
		return err
	}
	server.listener = listener
	server.group = &errgroup.Group{}
	server.group.Go(server.acceptLoop)
	return nil
}

// Stop shuts the listener down and waits for in-flight connections,
// aggregating any teardown errors.
func (server *Server) Stop() error {
	var result *multierror.Error
	if server.listener != nil {
		if err := server.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if server.group != nil {
		if err := server.group.Wait(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (server *Server) acceptLoop() error {
	for {
		connection, err := server.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if server.localOnly && !isLoopback(connection.RemoteAddr()) {
			usbipLogger.Printf("Connection attempted from non-local address: %s", connection.RemoteAddr().String())
			connection.Close()
			continue
		}
		usbipConn := newConnection(server, connection)
		server.group.Go(func() error {
			util.Try(func() {
				usbipConn.handle()
			}, func(err interface{}) {
				errLogger.Printf("%v", err)
			})
			usbipConn.close()
			return nil
		})
	}
}

func isLoopback(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (server *Server) portFor(busID string) *Port {
	for _, port := range server.ports {
		if port.BusID() == busID {
			return port
		}
	}
	return nil
}

type connection struct {
	responseMutex sync.Mutex
	conn          net.Conn
	server        *Server
	port          *Port
}

func newConnection(server *Server, conn net.Conn) *connection {
	return &connection{
		conn:   conn,
		server: server,
	}
}

func (conn *connection) close() {
	if conn.port != nil {
		conn.port.detach()
		conn.port = nil
	}
	conn.conn.Close()
}

func (conn *connection) handle() {
	for {
		header := util.ReadBE[usbipControlHeader](conn.conn)
		usbipLogger.Printf("[CONTROL MESSAGE] %s\n\n", &header)
		switch header.CommandCode {
		case usbipCommandOpReqDevlist:
			conn.writeResponse(conn.devlistReply())
		case usbipCommandOpReqImport:
			busIDData := util.Read(conn.conn, 32)
			busID := util.CStringToString(busIDData)
			port := conn.server.portFor(busID)
			if port == nil {
				reply := newOpRepImportError()
				conn.writeResponse(util.ToBE(reply))
				continue
			}
			reply := newOpRepImport(port.summary())
			usbipLogger.Printf("[OP_REP_IMPORT] %s\n\n", &reply.Device)
			conn.writeResponse(util.ToBE(reply))
			conn.port = port
			port.attach()
			conn.handleCommands(port)
			return
		default:
			usbipLogger.Printf("Unknown Command Code: %d", header.CommandCode)
		}
	}
}

func (conn *connection) devlistReply() []byte {
	reply := util.ToBE(newOpRepDevlist(uint32(len(conn.server.ports))))
	for _, port := range conn.server.ports {
		summary := port.summary()
		reply = util.Concat(reply, util.ToBE(summary), port.interfaceRecords())
	}
	return reply
}

func (conn *connection) handleCommands(port *Port) {
	for {
		header := util.ReadBE[usbipMessageHeader](conn.conn)
		usbipLogger.Printf("[MESSAGE HEADER] %s\n\n", header)
		switch header.Command {
		case usbipCmdSubmit:
			conn.handleCommandSubmit(port, header)
		case usbipCmdUnlink:
			conn.handleCommandUnlink(port, header)
		default:
			usbipLogger.Printf("Unsupported Command: %#v\n\n", header)
		}
	}
}

func (conn *connection) handleCommandSubmit(port *Port, header usbipMessageHeader) {
	body := util.ReadBE[usbipCommandSubmitBody](conn.conn)
	usbipLogger.Printf("[COMMAND SUBMIT] %s\n\n", body)
	var payload []byte
	if header.Direction == usbipDirOut && body.TransferBufferLength > 0 {
		payload = util.Read(conn.conn, uint(body.TransferBufferLength))
	}
	reply := func(status int32, data []byte, actualLength uint32) {
		replyHeader := returnSubmitHeader(header)
		replyBody := usbipReturnSubmitBody{
			Status:       status,
			ActualLength: actualLength,
		}
		message := util.Concat(util.ToBE(replyHeader), util.ToBE(replyBody))
		if header.Direction == usbipDirIn && status == urbStatusOK {
			message = append(message, data...)
		}
		conn.writeResponse(message)
	}

	port.eventMu.Lock()
	defer port.eventMu.Unlock()
	if header.Endpoint == 0 {
		port.handleControlURB(header, body, payload, reply)
	} else {
		port.handleDataURB(header, body, payload, reply)
	}
}

func (conn *connection) handleCommandUnlink(port *Port, header usbipMessageHeader) {
	unlink := util.ReadBE[usbipCommandUnlinkBody](conn.conn)
	usbipLogger.Printf("[COMMAND UNLINK] %#v\n\n", unlink)
	var status int32
	if port.removePending(unlink.UnlinkSequenceNumber) {
		status = urbStatusUnlinked
	} else {
		status = urbStatusNoEndpoint
	}
	reply := util.Concat(
		util.ToBE(returnUnlinkHeader(header)),
		util.ToBE(usbipReturnUnlinkBody{Status: status}),
	)
	conn.writeResponse(reply)
}

func (conn *connection) writeResponse(data []byte) {
	conn.responseMutex.Lock()
	util.Write(conn.conn, data)
	conn.responseMutex.Unlock()
}
